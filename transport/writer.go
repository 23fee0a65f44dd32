package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// Writer is the write half of a [Socket], obtained from [Socket.Writer].
type Writer struct {
	shared *sharedFD
}

// Send writes buf to the socket, attaching fds as SCM_RIGHTS
// ancillary data. It issues exactly one sendmsg syscall: D-Bus
// requires that a message's file descriptors be attached to the
// first byte of its serialized form, so callers must not split a
// single message's bytes across more than one Send call when fds are
// present.
//
// Send retries automatically on EINTR, but a short write (n less
// than len(buf)) is returned to the caller rather than retried,
// since retrying would re-attach fds that the peer has already
// received.
func (w *Writer) Send(buf []byte, fds []*os.File) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		raw := make([]int, len(fds))
		for i, f := range fds {
			raw[i] = int(f.Fd())
		}
		oob = unix.UnixRights(raw...)
	}

	type result struct{ n int }
	res, err := retryEINTR(func() (result, error) {
		n, err := unix.SendmsgN(w.shared.fd, buf, oob, nil, 0)
		return result{n}, err
	})
	if err != nil {
		return res.n, err
	}
	return res.n, nil
}

// CanPassUnixFD always reports true for a unix transport writer: the
// unix domain socket transport is the only one this client supports,
// and it always allows fd passing at the kernel level. Whether the
// bus has agreed to let this connection use it is negotiated during
// the handshake, not reported here.
func (w *Writer) CanPassUnixFD() bool { return true }

// Close closes the writer half, releasing its reference on the
// shared descriptor.
func (w *Writer) Close() error { return w.shared.release() }
