package transport

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected Sockets, standing in for a dialed
// unix connection in tests that don't need a real bus.
func socketpair(t *testing.T) (a, b *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	return FromFD(fds[0]), FromFD(fds[1])
}

func TestSendRecv(t *testing.T) {
	a, b := socketpair(t)
	defer a.Reader().Close()
	defer a.Writer().Close()
	defer b.Reader().Close()
	defer b.Writer().Close()

	w := a.Writer()
	r := b.Reader()

	want := []byte("hello, dbus")
	n, err := w.Send(want, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Send wrote %d bytes, want %d", n, len(want))
	}

	buf := make([]byte, 64)
	n, fds, err := r.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(fds) != 0 {
		t.Fatalf("Recv got %d fds, want 0", len(fds))
	}
	if string(buf[:n]) != string(want) {
		t.Fatalf("Recv got %q, want %q", buf[:n], want)
	}
}

func TestSendRecvWithFDs(t *testing.T) {
	a, b := socketpair(t)
	defer a.Reader().Close()
	defer a.Writer().Close()
	defer b.Reader().Close()
	defer b.Writer().Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fd")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	if _, err := tmp.WriteString("payload"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	w := a.Writer()
	r := b.Reader()

	if _, err := w.Send([]byte{1}, []*os.File{tmp}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 8)
	n, fds, err := r.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 1 {
		t.Fatalf("Recv got %d bytes, want 1", n)
	}
	if len(fds) != 1 {
		t.Fatalf("Recv got %d fds, want 1", len(fds))
	}
	defer fds[0].Close()

	got := make([]byte, 7)
	if _, err := fds[0].ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("received fd contents = %q, want %q", got, "payload")
	}
}

func TestSharedFDClosesOnce(t *testing.T) {
	a, _ := socketpair(t)
	r, w := a.Reader(), a.Writer()
	if err := r.Close(); err != nil {
		t.Fatalf("Reader.Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Writer.Close: %v", err)
	}
	// fd should now be closed; writing to it should fail.
	if _, err := unix.Write(a.shared.fd, []byte{0}); err == nil {
		t.Fatalf("write to closed fd succeeded, want error")
	}
}

func TestSetNonblock(t *testing.T) {
	a, b := socketpair(t)
	defer a.Reader().Close()
	defer a.Writer().Close()
	defer b.Reader().Close()
	defer b.Writer().Close()

	if err := b.SetNonblock(true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	buf := make([]byte, 8)
	_, _, err := b.Reader().Recv(buf)
	if err != unix.EAGAIN {
		t.Fatalf("Recv on empty nonblocking socket = %v, want EAGAIN", err)
	}
}
