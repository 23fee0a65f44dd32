package dbus

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creachadair/mds/mapset"
	"github.com/slimbus-go/slimbus/transport"
)

// authMechanism identifies a SASL mechanism this client knows how to
// speak, in the order they should be attempted.
type authMechanism int

const (
	mechExternal authMechanism = iota
	mechCookieSHA1
	mechAnonymous
)

func (m authMechanism) String() string {
	switch m {
	case mechExternal:
		return "EXTERNAL"
	case mechCookieSHA1:
		return "DBUS_COOKIE_SHA1"
	case mechAnonymous:
		return "ANONYMOUS"
	default:
		return "UNKNOWN"
	}
}

// mechanismPriority is every mechanism this client supports, in the
// order it prefers to try them.
var mechanismPriority = []authMechanism{mechExternal, mechCookieSHA1, mechAnonymous}

// Authenticated is the result of a successful client handshake: a
// transport ready to exchange framed messages, plus whatever bytes
// were read past the handshake's final "\r\n" and need to be handed
// to the first [MessageReader.ReadMessage] call.
type Authenticated struct {
	Reader    *transport.Reader
	Writer    *transport.Writer
	CapUnixFD bool
	Leftover  []byte
	// ServerGUID is the bus's GUID, as reported by its OK reply.
	ServerGUID string
}

// clientHandshake drives the client side of the SASL authentication
// protocol described at
// https://dbus.freedesktop.org/doc/dbus-specification.html#auth-protocol.
type clientHandshake struct {
	sock   *transport.Socket
	reader *transport.Reader
	writer *transport.Writer

	recvBuf []byte

	remaining  mapset.Set[authMechanism]
	serverGUID string // expected GUID from the address, if any
	capUnixFD  bool
}

// Handshake authenticates sock as a client against a D-Bus server,
// trying mechanisms in [mechanismPriority] order until one succeeds
// or all are rejected. expectGUID is the GUID the dialed address
// advertised, or "" if it didn't include one.
//
// On failure, the reader and writer halves Handshake took from sock
// are closed.
func Handshake(sock *transport.Socket, expectGUID string) (*Authenticated, error) {
	h := &clientHandshake{
		sock:       sock,
		reader:     sock.Reader(),
		writer:     sock.Writer(),
		remaining:  mapset.New(mechanismPriority...),
		serverGUID: expectGUID,
	}
	auth, err := h.run()
	if err != nil {
		h.reader.Close()
		h.writer.Close()
		return nil, err
	}
	return auth, nil
}

func (h *clientHandshake) run() (*Authenticated, error) {
	if err := h.sendInitialByte(); err != nil {
		return nil, err
	}

	for {
		mech, ok := h.nextMechanism()
		if !ok {
			return nil, handshakeErrf("exhausted all authentication mechanisms")
		}
		ok, err := h.tryMechanism(mech)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
	}

	if err := h.writeLine("NEGOTIATE_UNIX_FD"); err != nil {
		return nil, err
	}
	line, err := h.readLine()
	if err != nil {
		return nil, err
	}
	switch {
	case line == "AGREE_UNIX_FD":
		h.capUnixFD = true
	case strings.HasPrefix(line, "ERROR"):
		h.capUnixFD = false
	default:
		return nil, handshakeErrf("unexpected reply to NEGOTIATE_UNIX_FD: %q", line)
	}

	if err := h.writeLine("BEGIN"); err != nil {
		return nil, err
	}

	return &Authenticated{
		Reader:     h.reader,
		Writer:     h.writer,
		CapUnixFD:  h.capUnixFD,
		Leftover:   h.recvBuf,
		ServerGUID: h.serverGUID,
	}, nil
}

func (h *clientHandshake) nextMechanism() (authMechanism, bool) {
	for _, m := range mechanismPriority {
		if h.remaining.Has(m) {
			h.remaining.Remove(m)
			return m, true
		}
	}
	return 0, false
}

// sendInitialByte sends the handshake's leading NUL byte, attaching
// SCM_CREDS ancillary data first if the platform requires it (the
// FreeBSD/DragonFly quirk; see [transport.Socket.WantsZeroByteCredentials]).
func (h *clientHandshake) sendInitialByte() error {
	if h.sock.WantsZeroByteCredentials() {
		return h.sock.SendZeroByte()
	}
	n, err := h.writer.Send([]byte{0}, nil)
	if err != nil {
		return err
	}
	if n != 1 {
		return handshakeErrf("short write sending initial NUL byte")
	}
	return nil
}

// tryMechanism attempts to authenticate using mech. It returns
// (true, nil) on success, (false, nil) if the server rejected this
// mechanism and another should be tried, and a non-nil error for
// anything else (malformed server replies, I/O failure).
func (h *clientHandshake) tryMechanism(mech authMechanism) (bool, error) {
	switch mech {
	case mechExternal:
		return h.tryExternal()
	case mechCookieSHA1:
		return h.tryCookieSHA1()
	case mechAnonymous:
		return h.tryAnonymous()
	default:
		return false, handshakeErrf("unknown mechanism %v", mech)
	}
}

func (h *clientHandshake) tryExternal() (bool, error) {
	euid := strconv.Itoa(os.Geteuid())
	if err := h.writeLine("AUTH EXTERNAL " + hex.EncodeToString([]byte(euid))); err != nil {
		return false, err
	}
	return h.waitForOK()
}

func (h *clientHandshake) tryAnonymous() (bool, error) {
	if err := h.writeLine("AUTH ANONYMOUS " + hex.EncodeToString([]byte("slimbus"))); err != nil {
		return false, err
	}
	return h.waitForOK()
}

// tryCookieSHA1 performs the DBUS_COOKIE_SHA1 mechanism: the server
// challenges with a context name, a cookie ID, and a server-chosen
// random hex string; the client looks up the matching cookie in
// ~/.dbus-keyrings/<context>, and proves knowledge of it by replying
// with its own random hex string and the SHA1 of
// "server-challenge:client-challenge:cookie".
func (h *clientHandshake) tryCookieSHA1() (bool, error) {
	euid := strconv.Itoa(os.Geteuid())
	if err := h.writeLine("AUTH DBUS_COOKIE_SHA1 " + hex.EncodeToString([]byte(euid))); err != nil {
		return false, err
	}

	line, err := h.readLine()
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(line, "REJECTED") {
		return false, nil
	}
	if !strings.HasPrefix(line, "DATA ") {
		return false, handshakeErrf("unexpected reply to AUTH DBUS_COOKIE_SHA1: %q", line)
	}
	challengeBytes, err := hex.DecodeString(strings.TrimPrefix(line, "DATA "))
	if err != nil {
		return false, handshakeErrf("malformed DBUS_COOKIE_SHA1 challenge: %v", err)
	}
	fields := strings.SplitN(string(challengeBytes), " ", 3)
	if len(fields) != 3 {
		return false, handshakeErrf("malformed DBUS_COOKIE_SHA1 challenge %q", challengeBytes)
	}
	context, cookieID, serverChallenge := fields[0], fields[1], fields[2]
	if !validCookieContext(context) {
		return false, handshakeErrf("DBUS_COOKIE_SHA1 challenge names invalid context %q", context)
	}

	cookie, err := lookupCookie(context, cookieID)
	if err != nil {
		return false, handshakeErrf("DBUS_COOKIE_SHA1: %v", err)
	}

	var clientChallengeRaw [16]byte
	if _, err := rand.Read(clientChallengeRaw[:]); err != nil {
		return false, handshakeErrf("generating client challenge: %v", err)
	}
	clientChallenge := hex.EncodeToString(clientChallengeRaw[:])

	sum := sha1.Sum([]byte(serverChallenge + ":" + clientChallenge + ":" + cookie))
	resp := clientChallenge + " " + hex.EncodeToString(sum[:])
	if err := h.writeLine("DATA " + hex.EncodeToString([]byte(resp))); err != nil {
		return false, err
	}
	return h.waitForOK()
}

// validCookieContext reports whether context is safe to join onto the
// keyring directory path: non-empty, ASCII, and free of '/', '\',
// space, '.', and the common line-ending control characters. Without
// this check a malicious server could name a context like ".." or
// containing '/' to steer the keyring read outside
// $HOME/.dbus-keyrings.
func validCookieContext(context string) bool {
	if context == "" {
		return false
	}
	for i := 0; i < len(context); i++ {
		switch c := context[i]; {
		case c >= 0x80:
			return false
		case c == '/' || c == '\\' || c == ' ' || c == '.' || c == '\n' || c == '\r' || c == '\t':
			return false
		}
	}
	return true
}

// lookupCookie reads the keyring file for context
// ($HOME/.dbus-keyrings/<context>) and returns the cookie whose ID
// matches id. Neither the file nor its containing directory may be
// readable or writable by group or others (mode bits 0o066); any of
// those bits is a hard failure, not a warning, since a readable
// keyring is a local credential leak.
func lookupCookie(context, id string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".dbus-keyrings")
	path := filepath.Join(dir, context)

	for _, p := range []string{dir, path} {
		fi, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		if fi.Mode().Perm()&0o066 != 0 {
			return "", fmt.Errorf("keyring %q is group- or world-accessible (mode %o)", p, fi.Mode().Perm())
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == id {
			return fields[2], nil
		}
	}
	return "", fmt.Errorf("no cookie with id %q in keyring %q", id, path)
}

// waitForOK reads a single line expected to be either "OK <guid>" or
// "REJECTED ...". It returns (true, nil) for OK, (false, nil) for
// REJECTED (so the caller moves on to the next mechanism), and an
// error for anything else.
func (h *clientHandshake) waitForOK() (bool, error) {
	line, err := h.readLine()
	if err != nil {
		return false, err
	}
	switch {
	case strings.HasPrefix(line, "OK "):
		guid := strings.TrimSpace(strings.TrimPrefix(line, "OK "))
		if h.serverGUID != "" && h.serverGUID != guid {
			return false, handshakeErrf("server GUID %q does not match address GUID %q", guid, h.serverGUID)
		}
		h.serverGUID = guid
		return true, nil
	case strings.HasPrefix(line, "REJECTED"):
		return false, nil
	default:
		return false, handshakeErrf("unexpected reply during authentication: %q", line)
	}
}

// writeLine sends s terminated with the SASL profile's CRLF line
// ending.
func (h *clientHandshake) writeLine(s string) error {
	buf := []byte(s + "\r\n")
	for len(buf) > 0 {
		n, err := h.writer.Send(buf, nil)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// readLine reads a single CRLF-terminated line from the handshake
// stream, growing recvBuf as needed. Any file descriptors arriving
// during the handshake are a fatal protocol violation: a server has
// no business attaching fds to an auth-phase reply.
func (h *clientHandshake) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(h.recvBuf, '\n'); i >= 0 {
			if i == 0 || h.recvBuf[i-1] != '\r' {
				return "", handshakeErrf("invalid line ending in handshake reply")
			}
			line := string(h.recvBuf[:i-1])
			h.recvBuf = h.recvBuf[i+1:]
			return line, nil
		}

		var chunk [64]byte
		n, fds, err := h.reader.Recv(chunk[:])
		if err != nil {
			return "", err
		}
		if len(fds) != 0 {
			return "", handshakeErrf("unexpected file descriptors during handshake")
		}
		if n == 0 {
			return "", handshakeErrf("unexpected EOF during handshake")
		}
		h.recvBuf = append(h.recvBuf, chunk[:n]...)
	}
}
