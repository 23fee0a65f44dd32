package dbus

import (
	"bufio"
	"os"
	"testing"

	"github.com/slimbus-go/slimbus/transport"
	"golang.org/x/sys/unix"
)

// fakeServer runs a minimal server side of the handshake over one end
// of a socketpair, driven by reply in a goroutine that closes that end
// when reply returns.
func fakeServer(t *testing.T, fd int, reply func(r *bufio.Reader, w *os.File)) {
	t.Helper()
	f := os.NewFile(uintptr(fd), "fake-server")
	go func() {
		defer f.Close()
		reply(bufio.NewReader(f), f)
	}()
}

func writeLine(t *testing.T, w *os.File, s string) {
	t.Helper()
	if _, err := w.Write([]byte(s + "\r\n")); err != nil {
		t.Errorf("server write failed: %v", err)
	}
}

func TestHandshakeExternalSuccess(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	sock := transport.FromFD(fds[0])

	fakeServer(t, fds[1], func(r *bufio.Reader, w *os.File) {
		// initial NUL byte
		nul := make([]byte, 1)
		if _, err := r.Read(nul); err != nil {
			return
		}
		line, _ := r.ReadString('\n')
		wantPrefix := "AUTH EXTERNAL "
		if len(line) < len(wantPrefix) || line[:len(wantPrefix)] != wantPrefix {
			writeLine(t, w, "ERROR unexpected auth line")
			return
		}
		writeLine(t, w, "OK 1234567890abcdef1234567890abcdef")

		line, _ = r.ReadString('\n')
		if line != "NEGOTIATE_UNIX_FD\r\n" {
			writeLine(t, w, "ERROR expected NEGOTIATE_UNIX_FD")
			return
		}
		writeLine(t, w, "AGREE_UNIX_FD")

		line, _ = r.ReadString('\n')
		if line != "BEGIN\r\n" {
			return
		}
		// Write one post-handshake byte, as a server's first message
		// would follow BEGIN. Handshake returns after sending BEGIN
		// without reading further, so this byte is not checked here.
		w.Write([]byte{0x42})
	})

	auth, err := Handshake(sock, "")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !auth.CapUnixFD {
		t.Errorf("CapUnixFD = false, want true")
	}
	if auth.ServerGUID != "1234567890abcdef1234567890abcdef" {
		t.Errorf("ServerGUID = %q, want the server's GUID", auth.ServerGUID)
	}
}

func TestHandshakeGUIDMismatch(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	sock := transport.FromFD(fds[0])

	fakeServer(t, fds[1], func(r *bufio.Reader, w *os.File) {
		nul := make([]byte, 1)
		r.Read(nul)
		r.ReadString('\n')
		writeLine(t, w, "OK ffffffffffffffffffffffffffffffff")
	})

	_, err = Handshake(sock, "00000000000000000000000000000000")
	if err == nil {
		t.Fatalf("Handshake succeeded despite GUID mismatch")
	}
	var herr *HandshakeError
	if !asHandshakeError(err, &herr) {
		t.Errorf("error %v is not a HandshakeError", err)
	}
}

func asHandshakeError(err error, target **HandshakeError) bool {
	he, ok := err.(*HandshakeError)
	if ok {
		*target = he
	}
	return ok
}

func TestHandshakeMechanismFallback(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	sock := transport.FromFD(fds[0])

	fakeServer(t, fds[1], func(r *bufio.Reader, w *os.File) {
		nul := make([]byte, 1)
		r.Read(nul)

		// Reject EXTERNAL.
		r.ReadString('\n')
		writeLine(t, w, "REJECTED DBUS_COOKIE_SHA1 ANONYMOUS")

		// Reject DBUS_COOKIE_SHA1's AUTH line outright, before any
		// DATA challenge, so the client never reaches the keyring
		// lookup and moves on to ANONYMOUS.
		line, _ := r.ReadString('\n')
		for len(line) > 0 {
			switch {
			case hasPrefix(line, "AUTH ANONYMOUS "):
				writeLine(t, w, "OK "+"deadbeefdeadbeefdeadbeefdeadbeef")
				line, _ = r.ReadString('\n')
				if line == "NEGOTIATE_UNIX_FD\r\n" {
					writeLine(t, w, "AGREE_UNIX_FD")
				}
				r.ReadString('\n') // BEGIN
				return
			case hasPrefix(line, "AUTH DBUS_COOKIE_SHA1 "):
				writeLine(t, w, "REJECTED ANONYMOUS")
				line, _ = r.ReadString('\n')
			default:
				return
			}
		}
	})

	auth, err := Handshake(sock, "")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if auth.ServerGUID != "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Errorf("ServerGUID = %q, want the ANONYMOUS-path GUID", auth.ServerGUID)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// sanity check that fakeServer's fd plumbing actually round-trips, so
// a broken test harness fails loudly instead of hanging.
func TestFakeServerPlumbing(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	a := os.NewFile(uintptr(fds[0]), "a")
	b := os.NewFile(uintptr(fds[1]), "b")
	defer a.Close()
	defer b.Close()

	go b.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := a.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}
}
