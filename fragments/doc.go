// package fragments provides low-level encoding and decoding helpers
// to construct and parse DBus message bytes.
//
// The provided encoder and decoder are low level tools, and do not
// ensure that all outputs are valid DBus messages. [github.com/slimbus-go/slimbus]
// uses them directly to read and write message headers, and hands a
// separate Encoder or Decoder, set to the message's byte order, to a
// message body's [dbus.Marshaler] or [dbus.Unmarshaler]
// implementation. The body starts on an 8-byte boundary, so
// alignment counted from the start of the body matches alignment
// counted from the start of the message.
package fragments
