package dbus

import (
	"github.com/slimbus-go/slimbus/fragments"
)

// MaxMessageSize is the largest total message size (header plus
// body) this client will read or write. Messages larger than this
// are rejected with [ExcessDataError], matching the D-Bus
// specification's hard limit of 128 MiB.
const MaxMessageSize = 128 * 1024 * 1024

// MinMessageSize is the smallest number of bytes that can possibly
// begin a message: the 12-byte primary header (endianness, type,
// flags, protocol version, and the two uint32s giving body length
// and serial) plus the 4-byte length of the header field array.
const MinMessageSize = 16

// MessageType distinguishes the four kinds of D-Bus message.
type MessageType byte

const (
	// MethodCall invokes a method on a remote object.
	MethodCall MessageType = iota + 1
	// MethodReturn carries the successful result of a MethodCall.
	MethodReturn
	// MessageError carries the failure result of a MethodCall.
	MessageError
	// Signal announces an event to anyone listening for it.
	Signal
)

func (t MessageType) String() string {
	switch t {
	case MethodCall:
		return "method_call"
	case MethodReturn:
		return "method_return"
	case MessageError:
		return "error"
	case Signal:
		return "signal"
	default:
		return "unknown"
	}
}

// Flags carried in a message's primary header.
type HeaderFlags byte

const (
	// FlagNoReplyExpected indicates a MethodCall for which the sender
	// does not want a MethodReturn or Error reply.
	FlagNoReplyExpected HeaderFlags = 1 << 0
	// FlagNoAutoStart tells the bus not to launch an owner for the
	// destination service if one isn't already running.
	FlagNoAutoStart HeaderFlags = 1 << 1
	// FlagAllowInteractiveAuthorization tells the destination that the
	// sender is prepared to wait through an interactive authorization
	// dialog (e.g. polkit) if the call requires one.
	FlagAllowInteractiveAuthorization HeaderFlags = 1 << 2

	flagsKnownMask = FlagNoReplyExpected | FlagNoAutoStart | FlagAllowInteractiveAuthorization
)

// fieldCode identifies a header field in the header field array.
type fieldCode uint8

const (
	fieldPath fieldCode = iota + 1
	fieldInterface
	fieldMember
	fieldErrorName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldUnixFDs
)

// fieldSig is the single-character D-Bus type code used as the
// VARIANT signature of each header field.
var fieldSig = map[fieldCode]byte{
	fieldPath:        'o',
	fieldInterface:   's',
	fieldMember:      's',
	fieldErrorName:   's',
	fieldReplySerial: 'u',
	fieldDestination: 's',
	fieldSender:      's',
	fieldSignature:   'g',
	fieldUnixFDs:     'u',
}

// Header is a parsed D-Bus message header: the fixed-size primary
// header plus the variable-length array of header fields.
type Header struct {
	Order    fragments.ByteOrder
	Type     MessageType
	Flags    HeaderFlags
	Version  uint8
	BodyLen  uint32
	Serial   uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string
	Signature   Signature
	UnixFDs     uint32

	hasReplySerial bool
	hasUnixFDs     bool
}

// Valid checks that h carries the header fields its message Type
// requires, per the D-Bus specification's per-type requirements, and
// that FlagNoReplyExpected is set only on a MethodCall.
func (h *Header) Valid() error {
	if h.Serial == 0 {
		return invalidFieldErrf("message has zero Serial")
	}
	switch h.Type {
	case MethodCall:
		if h.Path == "" {
			return invalidFieldErrf("method_call is missing required Path field")
		}
		if h.Member == "" {
			return invalidFieldErrf("method_call is missing required Member field")
		}
	case MethodReturn:
		if !h.hasReplySerial {
			return invalidFieldErrf("method_return is missing required ReplySerial field")
		}
	case MessageError:
		if !h.hasReplySerial {
			return invalidFieldErrf("error is missing required ReplySerial field")
		}
		if h.ErrorName == "" {
			return invalidFieldErrf("error is missing required ErrorName field")
		}
	case Signal:
		if h.Path == "" {
			return invalidFieldErrf("signal is missing required Path field")
		}
		if h.Interface == "" {
			return invalidFieldErrf("signal is missing required Interface field")
		}
		if h.Member == "" {
			return invalidFieldErrf("signal is missing required Member field")
		}
	default:
		return invalidFieldErrf("unknown message type %d", h.Type)
	}
	if h.Flags&FlagNoReplyExpected != 0 && h.Type != MethodCall {
		return invalidFieldErrf("%v message may not set the NoReplyExpected flag", h.Type)
	}
	if h.Path != "" && !h.Path.IsValid() {
		return invalidFieldErrf("Path field %q is not a valid object path", h.Path)
	}
	return nil
}

// WantReply reports whether this message is a MethodCall that
// expects a MethodReturn or Error in response.
func (h *Header) WantReply() bool {
	return h.Type == MethodCall && h.Flags&FlagNoReplyExpected == 0
}

// SetReplySerial sets the ReplySerial field and marks it present;
// ReplySerial is otherwise indistinguishable from "absent" at zero,
// since 0 is never a valid serial.
func (h *Header) SetReplySerial(serial uint32) {
	h.ReplySerial = serial
	h.hasReplySerial = true
}

// SetUnixFDs sets the UnixFDs field and marks it present.
func (h *Header) SetUnixFDs(n uint32) {
	h.UnixFDs = n
	h.hasUnixFDs = true
}

// encode writes the primary header and field array to e, leaving the
// output aligned to an 8-byte boundary as required before the
// message body. e.Order must already be set to the order the header
// should be written in.
func (h *Header) encode(e *fragments.Encoder) error {
	e.ByteOrderFlag()
	e.Uint8(byte(h.Type))
	e.Uint8(byte(h.Flags))
	e.Uint8(h.Version)
	e.Uint32(h.BodyLen)
	e.Uint32(h.Serial)

	if err := e.Array(true, func() error {
		encodeField := func(code fieldCode, write func()) error {
			return e.Struct(func() error {
				e.Uint8(byte(code))
				e.Signature(string(fieldSig[code]))
				write()
				return nil
			})
		}

		if h.Path != "" {
			if err := encodeField(fieldPath, func() { e.String(string(h.Path)) }); err != nil {
				return err
			}
		}
		if h.Interface != "" {
			if err := encodeField(fieldInterface, func() { e.String(h.Interface) }); err != nil {
				return err
			}
		}
		if h.Member != "" {
			if err := encodeField(fieldMember, func() { e.String(h.Member) }); err != nil {
				return err
			}
		}
		if h.ErrorName != "" {
			if err := encodeField(fieldErrorName, func() { e.String(h.ErrorName) }); err != nil {
				return err
			}
		}
		if h.hasReplySerial {
			if err := encodeField(fieldReplySerial, func() { e.Uint32(h.ReplySerial) }); err != nil {
				return err
			}
		}
		if h.Destination != "" {
			if err := encodeField(fieldDestination, func() { e.String(h.Destination) }); err != nil {
				return err
			}
		}
		if h.Sender != "" {
			if err := encodeField(fieldSender, func() { e.String(h.Sender) }); err != nil {
				return err
			}
		}
		if !h.Signature.IsZero() {
			if err := encodeField(fieldSignature, func() { e.Signature(string(h.Signature)) }); err != nil {
				return err
			}
		}
		if h.hasUnixFDs {
			if err := encodeField(fieldUnixFDs, func() { e.Uint32(h.UnixFDs) }); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	e.Pad(8)
	return nil
}

// decodeHeader reads a primary header and its field array from d.
// d.Order is set from the message's endianness byte as a side
// effect.
func decodeHeader(d *fragments.Decoder) (*Header, error) {
	h := &Header{}
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	h.Order = d.Order

	typ, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	h.Type = MessageType(typ)

	flags, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	h.Flags = HeaderFlags(flags)

	h.Version, err = d.Uint8()
	if err != nil {
		return nil, err
	}
	h.BodyLen, err = d.Uint32()
	if err != nil {
		return nil, err
	}
	h.Serial, err = d.Uint32()
	if err != nil {
		return nil, err
	}

	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			codeByte, err := d.Uint8()
			if err != nil {
				return err
			}
			code := fieldCode(codeByte)
			sig, err := d.Signature()
			if err != nil {
				return err
			}
			switch code {
			case fieldPath:
				s, err := d.String()
				if err != nil {
					return err
				}
				h.Path = ObjectPath(s)
			case fieldInterface:
				h.Interface, err = d.String()
			case fieldMember:
				h.Member, err = d.String()
			case fieldErrorName:
				h.ErrorName, err = d.String()
			case fieldReplySerial:
				var v uint32
				v, err = d.Uint32()
				h.SetReplySerial(v)
			case fieldDestination:
				h.Destination, err = d.String()
			case fieldSender:
				h.Sender, err = d.String()
			case fieldSignature:
				var s string
				s, err = d.Signature()
				h.Signature = Signature(s)
			case fieldUnixFDs:
				var v uint32
				v, err = d.Uint32()
				h.SetUnixFDs(v)
			default:
				// Unknown field: skip its value using its declared
				// signature so the array framing stays intact.
				err = skipValue(d, sig)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if err := d.Pad(8); err != nil {
		return nil, err
	}

	return h, nil
}

// skipValue discards a single value of the given single-character
// signature. Header fields are never arrays/structs/variants in
// practice, so only the scalar codes need handling; anything else is
// rejected, since a header field we don't understand the shape of
// can't be safely skipped.
func skipValue(d *fragments.Decoder, sig string) error {
	if len(sig) != 1 {
		return invalidFieldErrf("unsupported unknown header field signature %q", sig)
	}
	switch sig[0] {
	case 'y':
		_, err := d.Uint8()
		return err
	case 'b', 'i', 'u', 'h':
		_, err := d.Uint32()
		return err
	case 'n', 'q':
		_, err := d.Uint16()
		return err
	case 'x', 't', 'd':
		_, err := d.Uint64()
		return err
	case 's', 'o':
		_, err := d.String()
		return err
	case 'g':
		_, err := d.Signature()
		return err
	default:
		return invalidFieldErrf("unsupported unknown header field signature %q", sig)
	}
}
