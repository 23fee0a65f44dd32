package dbus

import "fmt"

// AddressError reports a malformed or unsupported D-Bus address.
type AddressError struct {
	Message string
}

func (e *AddressError) Error() string { return "dbus address: " + e.Message }

func addressErrf(format string, args ...any) error {
	return &AddressError{fmt.Sprintf(format, args...)}
}

// HandshakeError reports a violation of the SASL authentication
// protocol: malformed line framing, an unexpected command, mechanism
// exhaustion, or a cookie-keyring problem. Handshake errors are
// terminal: the transport is closed and no [Conn] is constructed.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string { return "dbus handshake: " + e.Message }

func handshakeErrf(format string, args ...any) error {
	return &HandshakeError{fmt.Sprintf(format, args...)}
}

// IncorrectEndianError reports a primary header whose endianness byte
// is neither 'B' nor 'l', or that does not match an expected context.
type IncorrectEndianError struct {
	Got byte
}

func (e *IncorrectEndianError) Error() string {
	return fmt.Sprintf("dbus: incorrect endianness byte %q", e.Got)
}

// InvalidFieldError reports a message whose header breaks the rules
// for its type or does not fit its contents: a missing required
// field, a zero serial, a flag not permitted for the type (e.g.
// NoReplyExpected on a message that isn't a method call), or a
// signature or file descriptor count that does not match the body.
type InvalidFieldError struct {
	Message string
}

func (e *InvalidFieldError) Error() string { return "dbus: invalid header field: " + e.Message }

func invalidFieldErrf(format string, args ...any) error {
	return &InvalidFieldError{fmt.Sprintf(format, args...)}
}

// ExcessDataError reports a message, or an input claiming to
// describe one, whose total size exceeds [MaxMessageSize].
type ExcessDataError struct {
	Size uint64
}

func (e *ExcessDataError) Error() string {
	return fmt.Sprintf("dbus: message size %d exceeds maximum of %d bytes", e.Size, MaxMessageSize)
}

// UnsupportedError reports a request for functionality this client
// cannot provide as a client: a dir=/tmpdir= transport, or sending
// file descriptors over a transport that doesn't support it.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string { return "dbus: unsupported: " + e.Message }

func unsupportedErrf(format string, args ...any) error {
	return &UnsupportedError{fmt.Sprintf(format, args...)}
}

// CallError is returned from a failed method call: the remote peer
// reported an error reply rather than a normal return.
type CallError struct {
	// Name is the D-Bus error name provided by the remote peer, e.g.
	// "org.freedesktop.DBus.Error.ServiceUnknown".
	Name string
	// Detail is the human-readable explanation of what went wrong, if
	// the peer supplied one as the first string of the error body.
	Detail string
}

func (e *CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("dbus call error %s", e.Name)
	}
	return fmt.Sprintf("dbus call error %s: %s", e.Name, e.Detail)
}
