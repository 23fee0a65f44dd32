package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// Reader is the read half of a [Socket], obtained from [Socket.Reader].
type Reader struct {
	shared *sharedFD
	oob    []byte
}

// Recv reads at least one byte into buf, returning the number of
// bytes read and any file descriptors the peer attached as ancillary
// data to this read. It retries automatically on EINTR.
//
// Recv makes exactly one recvmsg syscall per call: it never blocks
// to fill buf completely, matching the framing needs of the message
// reader built on top of it (a short read is not an error).
func (r *Reader) Recv(buf []byte) (int, []*os.File, error) {
	type result struct {
		n, oobn, flags int
	}
	res, err := retryEINTR(func() (result, error) {
		n, oobn, flags, _, err := unix.Recvmsg(r.shared.fd, buf, r.oob[:], 0)
		return result{n, oobn, flags}, err
	})
	if err != nil {
		return 0, nil, err
	}
	if res.flags&unix.MSG_CTRUNC != 0 {
		return 0, nil, errf("control message truncated: received more than %d file descriptors", FDSMax)
	}
	if res.flags&unix.MSG_TRUNC != 0 {
		return 0, nil, errf("message truncated")
	}

	var fds []*os.File
	if res.oobn > 0 {
		var err error
		fds, err = parseAncillaryFDs(r.oob[:res.oobn])
		if err != nil {
			return 0, nil, err
		}
	}

	if res.n == 0 && len(fds) == 0 {
		return 0, nil, errf("peer closed the connection")
	}

	return res.n, fds, nil
}

// Close closes the reader half, releasing its reference on the
// shared descriptor.
func (r *Reader) Close() error { return r.shared.release() }

// parseAncillaryFDs extracts file descriptors carried as SCM_RIGHTS
// control messages in oob. Any other control message type (notably
// SCM_CREDENTIALS, which a FreeBSD/DragonFly peer may send unasked)
// is rejected: a client never expects ancillary data other than
// passed file descriptors on an ordinary message read.
func parseAncillaryFDs(oob []byte) ([]*os.File, error) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}

	var fds []*os.File
	closeAll := func() {
		for _, f := range fds {
			f.Close()
		}
	}

	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			closeAll()
			return nil, errf("unexpected ancillary data (level %d, type %d) on message socket",
				scm.Header.Level, scm.Header.Type)
		}
		raw, err := unix.ParseUnixRights(&scm)
		if err != nil {
			closeAll()
			return nil, err
		}
		for _, fd := range raw {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				closeAll()
				return nil, errf("kernel returned invalid file descriptor %d", fd)
			}
			fds = append(fds, f)
		}
	}
	return fds, nil
}
