// Package transport implements the D-Bus client transport: opening a
// unix domain socket connection to a bus and exchanging framed bytes
// and ancillary file descriptors with the peer.
//
// A [Socket] is split into a [Reader] and a [Writer] half that share
// the underlying file descriptor, so that a caller can read and
// write concurrently without synchronizing the two directions
// against each other. The descriptor is closed once both halves have
// been closed.
package transport

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FDSMax is the maximum number of file descriptors this package will
// accept as ancillary data on a single recvmsg call. The D-Bus
// daemon itself defaults to a much larger limit, but a client has no
// business receiving more fds than this in one message.
const FDSMax = 16

// Socket is a connected unix domain socket to a D-Bus server,
// obtained from [DialUnix]. Use [Socket.Reader] and [Socket.Writer]
// to split it into independent read and write halves.
type Socket struct {
	shared *sharedFD
}

// sharedFD reference-counts an OS file descriptor so that a Reader
// and a Writer can independently Close without either one
// prematurely closing the fd out from under the other.
type sharedFD struct {
	fd      int
	refs    atomic.Int32
	closeMu sync.Mutex
	closed  bool
	closeErr error
}

// newSharedFD starts with no references; each Reader or Writer handle
// taken from the Socket adds one.
func newSharedFD(fd int) *sharedFD {
	return &sharedFD{fd: fd}
}

func (s *sharedFD) release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		s.closeErr = unix.Close(s.fd)
	}
	return s.closeErr
}

// DialUnix connects to the unix domain socket named by kind and
// name, as parsed from a D-Bus address's unix: transport. Only
// path-based and Linux abstract-namespace sockets can be dialed; any
// other kind returns an error.
//
// The returned socket is in blocking mode; use [Socket.SetNonblock]
// to change that once the SASL handshake has completed.
func DialUnix(kind SocketKind, name string) (*Socket, error) {
	sa, err := sockaddr(kind, name)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Socket{shared: newSharedFD(fd)}, nil
}

// FromFD wraps an already-connected unix domain socket file
// descriptor, such as one handed to this process by systemd socket
// activation, as a [Socket]. The caller gives up ownership of fd;
// closing both halves of the returned socket closes it.
func FromFD(fd int) *Socket {
	return &Socket{shared: newSharedFD(fd)}
}

// SocketKind distinguishes the two unix socket addressing schemes
// this package can dial.
type SocketKind int

const (
	// SocketFile names a socket by filesystem path.
	SocketFile SocketKind = iota
	// SocketAbstract names a socket in the Linux abstract namespace.
	SocketAbstract
)

func sockaddr(kind SocketKind, name string) (unix.Sockaddr, error) {
	switch kind {
	case SocketFile:
		return &unix.SockaddrUnix{Name: name}, nil
	case SocketAbstract:
		// The leading NUL triggers Linux's abstract namespace; Go's
		// unix.SockaddrUnix.Name does this automatically for names
		// that start with '@', so we translate to that form here.
		return &unix.SockaddrUnix{Name: "@" + name}, nil
	default:
		return nil, unsupportedSocketKind(kind)
	}
}

// Reader returns the read half of the socket. Calling it more than
// once returns independent handles onto the same shared descriptor;
// each must be closed separately.
func (s *Socket) Reader() *Reader {
	s.shared.refs.Add(1)
	return &Reader{shared: s.shared, oob: make([]byte, unix.CmsgSpace(4*FDSMax))}
}

// Writer returns the write half of the socket. Calling it more than
// once returns independent handles onto the same shared descriptor;
// each must be closed separately.
func (s *Socket) Writer() *Writer {
	s.shared.refs.Add(1)
	return &Writer{shared: s.shared}
}

// RawFD returns the underlying OS file descriptor, so that a caller
// can integrate the socket with an external poll/epoll/kqueue event
// loop. The returned value is only meaningful until both halves of
// the socket have been closed.
func (s *Socket) RawFD() int { return s.shared.fd }

// SetNonblock toggles O_NONBLOCK on the underlying descriptor. Once
// set, [Reader.Recv] and [Writer.Send] return an error wrapping
// [unix.EAGAIN] instead of blocking when no data or buffer space is
// available, and the caller is expected to use an external poll loop
// to know when to retry.
func (s *Socket) SetNonblock(nonblocking bool) error {
	return unix.SetNonblock(s.shared.fd, nonblocking)
}

// PeerCredentials returns the credentials of the process on the
// other end of the socket, as reported by the kernel. See
// [platformPeerCredentials] for the platform-specific mechanism.
func (s *Socket) PeerCredentials() (Credentials, error) {
	return platformPeerCredentials(s.shared.fd)
}

// Credentials describes the identity of a socket's peer, as reported
// by the kernel rather than by anything the peer itself claimed.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// WantsZeroByteCredentials reports whether this platform requires
// the handshake's leading zero byte to carry ancillary credential
// data (SCM_CREDS on FreeBSD/DragonFly) rather than being sent as a
// plain byte.
func (s *Socket) WantsZeroByteCredentials() bool { return wantsZeroByteCredentials }

// SendZeroByte writes the handshake's leading NUL byte, attaching
// SCM_CREDS ancillary data first if [Socket.WantsZeroByteCredentials]
// requires it.
func (s *Socket) SendZeroByte() error { return sendZeroByte(s.shared.fd) }

func retryEINTR[T any](fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err == unix.EINTR {
			continue
		}
		return v, err
	}
}
