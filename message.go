package dbus

import (
	"bytes"
	"context"
	"os"

	"github.com/slimbus-go/slimbus/fragments"
)

// Marshaler is implemented by message body values that know how to
// serialize themselves to the D-Bus wire format. It is the hook
// through which a higher-level value codec plugs into this package;
// the core only ships [RawBody], which marshals pre-serialized bytes
// verbatim.
type Marshaler interface {
	SignatureDBus() Signature
	MarshalDBus(ctx context.Context, e *fragments.Encoder) error
}

// Unmarshaler is implemented by message body values that know how to
// deserialize themselves from the D-Bus wire format. See [Marshaler].
type Unmarshaler interface {
	SignatureDBus() Signature
	UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error
}

// RawBody is a message body carried as already-serialized bytes, with
// no further interpretation. Sending one writes Bytes verbatim;
// receiving one just captures a message's body bytes unchanged. It
// lets callers exchange messages before a full value codec exists on
// top of this package, and is also useful for proxying or logging
// messages without decoding them.
type RawBody struct {
	Sig   Signature
	Bytes []byte
}

func (b RawBody) SignatureDBus() Signature { return b.Sig }

func (b RawBody) MarshalDBus(_ context.Context, e *fragments.Encoder) error {
	e.Write(b.Bytes)
	return nil
}

func (b *RawBody) UnmarshalDBus(_ context.Context, d *fragments.Decoder) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(d.In); err != nil {
		return err
	}
	b.Bytes = buf.Bytes()
	return nil
}

// Message is a single D-Bus message: a parsed header, its raw body
// bytes, and any file descriptors carried alongside it.
type Message struct {
	Header *Header
	Body   []byte
	Files  []*os.File

	// RecvSeq is the 1-based sequence number this message was read
	// in, from whichever [MessageReader] produced it. Zero for a
	// message that hasn't been read off the wire.
	RecvSeq uint64
}

// Unmarshal decodes m's body into v, failing if m's declared body
// signature doesn't match v's.
func (m *Message) Unmarshal(ctx context.Context, v Unmarshaler) error {
	if m.Header.Signature != v.SignatureDBus() {
		return invalidFieldErrf("message body signature %q does not match %q", m.Header.Signature, v.SignatureDBus())
	}
	ctx = withContextFiles(ctx, m.Files)
	d := &fragments.Decoder{
		Order: m.Header.Order,
		In:    bytes.NewReader(m.Body),
	}
	return v.UnmarshalDBus(ctx, d)
}

// EncodeMessage serializes h and body into a complete, framed D-Bus
// message, assigning h.Serial from serials, filling in h.BodyLen and
// h.Signature (and h.UnixFDs, if body attaches any file descriptors
// through the marshaling context), and validating the result against
// h.Type's required fields and [MaxMessageSize].
//
// body may be nil for a message with no body.
func EncodeMessage(ctx context.Context, serials *serialAllocator, h *Header, body Marshaler) ([]byte, []*os.File, error) {
	h.Serial = serials.allocate()

	var bodyEnc fragments.Encoder
	bodyEnc.Order = h.Order

	var outFiles []*os.File
	ctx = withContextPutFiles(ctx, &outFiles)

	if body != nil {
		sig := body.SignatureDBus()
		if !sig.IsZero() {
			h.Signature = sig.asMsgBody()
		}
		if err := body.MarshalDBus(ctx, &bodyEnc); err != nil {
			return nil, nil, err
		}
	}

	if len(outFiles) > 0 {
		h.SetUnixFDs(uint32(len(outFiles)))
	}
	h.BodyLen = uint32(len(bodyEnc.Out))

	if err := h.Valid(); err != nil {
		return nil, nil, err
	}

	var headerEnc fragments.Encoder
	headerEnc.Order = h.Order
	if err := h.encode(&headerEnc); err != nil {
		return nil, nil, err
	}
	// The body starts on an 8-byte boundary.
	headerEnc.Pad(8)

	total := uint64(len(headerEnc.Out)) + uint64(len(bodyEnc.Out))
	if total > MaxMessageSize {
		return nil, nil, &ExcessDataError{Size: total}
	}

	out := append(headerEnc.Out, bodyEnc.Out...)
	return out, outFiles, nil
}
