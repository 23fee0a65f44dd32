package dbus

import (
	"context"
	"io"
	"sync"

	"github.com/slimbus-go/slimbus/fragments"
	"github.com/slimbus-go/slimbus/transport"
)

// connState is the lifecycle of a [Conn].
type connState int

const (
	connConstructed connState = iota
	connOpen
	connClosed
)

// Conn is a single D-Bus connection: an authenticated transport plus
// the message framing and serial bookkeeping needed to send and
// receive [Message] values over it.
//
// A Conn does not dispatch messages, track pending calls, or
// interpret message bodies; it is the minimal substrate a higher
// layer (a value codec, a method-call dispatcher) would build on.
type Conn struct {
	sock   *transport.Socket
	writer *transport.Writer
	reader *MessageReader

	order fragments.ByteOrder

	serials *serialAllocator

	mu         sync.Mutex
	state      connState
	capUnixFD  bool
	uniqueName string
	serverGUID string
}

// processSerials is shared by every Conn that [Dial] returns, so that
// serials stay unique across connections within one process.
var processSerials = newSerialAllocator()

// Dial connects to addr, performs the SASL handshake, and returns an
// open [Conn] ready to send and receive messages.
//
// Only unix: addresses naming a path= or abstract= socket can be
// dialed; any other transport kind fails with [UnsupportedError].
func Dial(addr Address) (*Conn, error) {
	if addr.Transport.Kind != TransportUnix {
		return nil, unsupportedErrf("transport %v is not supported by this client", addr.Transport.Kind)
	}
	var kind transport.SocketKind
	switch addr.Transport.Unix.Kind {
	case UnixFile:
		kind = transport.SocketFile
	case UnixAbstract:
		kind = transport.SocketAbstract
	default:
		return nil, unsupportedErrf("unix socket kind %v cannot be dialed by a client", addr.Transport.Unix.Kind)
	}

	sock, err := transport.DialUnix(kind, addr.Transport.Unix.Name)
	if err != nil {
		return nil, err
	}

	auth, err := Handshake(sock, addr.GUID)
	if err != nil {
		return nil, err
	}

	order := fragments.NativeEndian

	mr := NewMessageReader(auth.Reader)
	mr.buf = auth.Leftover

	c := &Conn{
		sock:       sock,
		writer:     auth.Writer,
		reader:     mr,
		order:      order,
		serials:    processSerials,
		state:      connOpen,
		capUnixFD:  auth.CapUnixFD,
		serverGUID: auth.ServerGUID,
	}
	return c, nil
}

// DialSession connects to the caller's session bus, per
// [SessionAddress].
func DialSession() (*Conn, error) {
	addr, err := SessionAddress()
	if err != nil {
		return nil, err
	}
	return Dial(addr)
}

// DialSystem connects to the system bus, per [SystemAddress].
func DialSystem() (*Conn, error) {
	addr, err := SystemAddress()
	if err != nil {
		return nil, err
	}
	return Dial(addr)
}

// RawFD returns the connection's underlying OS file descriptor, for
// integration with an external poll/epoll/kqueue event loop.
func (c *Conn) RawFD() int { return c.sock.RawFD() }

// CapUnixFD reports whether the server agreed to allow file
// descriptor passing on this connection.
func (c *Conn) CapUnixFD() bool { return c.capUnixFD }

// ServerGUID returns the bus's GUID, as reported during the
// handshake.
func (c *Conn) ServerGUID() string { return c.serverGUID }

// UniqueName returns the bus-assigned unique name recorded with
// [Conn.SetUniqueName]. A freshly dialed connection has no
// unique name until the caller performs the bus Hello call and
// records the result; this package does not do that call itself.
func (c *Conn) UniqueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uniqueName
}

// SetUniqueName records the unique bus name assigned to this
// connection by a prior Hello call. The name can be set only once:
// once a non-empty name is recorded, later calls are ignored.
func (c *Conn) SetUniqueName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uniqueName == "" {
		c.uniqueName = name
	}
}

// Send serializes a message with header h and the given body, and
// writes it to the connection. body may be nil.
//
// Send fails with [UnsupportedError] if body attaches file
// descriptors but the connection's peer did not agree to
// [Conn.CapUnixFD].
func (c *Conn) Send(ctx context.Context, h *Header, body Marshaler) (*Header, error) {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	c.mu.Unlock()

	if h.Order == nil {
		h.Order = c.order
	}
	if h.Sender == "" {
		h.Sender = c.UniqueName()
	}

	raw, fds, err := EncodeMessage(ctx, c.serials, h, body)
	if err != nil {
		return nil, err
	}
	if len(fds) > 0 && !c.capUnixFD {
		return nil, unsupportedErrf("message carries %d file descriptors, but the peer did not agree to unix fd passing", len(fds))
	}

	n, err := c.writer.Send(raw, fds)
	if err != nil {
		return nil, err
	}
	if n != len(raw) {
		return nil, io.ErrShortWrite
	}
	return h, nil
}

// ReadMessage blocks until a complete message has been received.
func (c *Conn) ReadMessage() (*Message, error) {
	return c.reader.ReadMessage()
}

// Close shuts down both directions of the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == connClosed {
		return nil
	}
	c.state = connClosed

	err1 := c.writer.Close()
	err2 := c.reader.r.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
