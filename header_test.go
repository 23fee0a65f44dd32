package dbus

import (
	"bytes"
	"testing"

	"github.com/slimbus-go/slimbus/fragments"
)

func encodeHeader(t *testing.T, h *Header) []byte {
	t.Helper()
	e := &fragments.Encoder{Order: fragments.LittleEndian}
	if err := h.encode(e); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return e.Out
}

func decodeHeaderBytes(t *testing.T, buf []byte) *Header {
	t.Helper()
	d := &fragments.Decoder{In: bytes.NewReader(buf)}
	h, err := decodeHeader(d)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	return h
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{
		Order:       fragments.LittleEndian,
		Type:        MethodCall,
		Flags:       FlagNoAutoStart,
		Version:     1,
		BodyLen:     42,
		Serial:      7,
		Path:        "/org/freedesktop/DBus",
		Interface:   "org.freedesktop.DBus",
		Member:      "Hello",
		Destination: "org.freedesktop.DBus",
		Signature:   "s",
	}
	h.SetUnixFDs(3)

	buf := encodeHeader(t, h)
	got := decodeHeaderBytes(t, buf)

	if got.Type != h.Type || got.Flags != h.Flags || got.Version != h.Version {
		t.Errorf("primary header mismatch: got %+v", got)
	}
	if got.BodyLen != h.BodyLen || got.Serial != h.Serial {
		t.Errorf("length/serial mismatch: got %+v", got)
	}
	if got.Path != h.Path || got.Interface != h.Interface || got.Member != h.Member {
		t.Errorf("addressing fields mismatch: got %+v", got)
	}
	if got.Destination != h.Destination {
		t.Errorf("Destination = %q, want %q", got.Destination, h.Destination)
	}
	if got.Signature != h.Signature {
		t.Errorf("Signature = %q, want %q", got.Signature, h.Signature)
	}
	if !got.hasUnixFDs || got.UnixFDs != 3 {
		t.Errorf("UnixFDs = %v (present=%v), want 3 (present)", got.UnixFDs, got.hasUnixFDs)
	}
	if len(buf)%8 != 0 {
		t.Errorf("encoded header length %d is not 8-byte aligned", len(buf))
	}
}

func TestHeaderEncodeDecodeReplySerial(t *testing.T) {
	h := &Header{
		Order:     fragments.LittleEndian,
		Type:      MethodReturn,
		Version:   1,
		Serial:    9,
		ErrorName: "",
	}
	h.SetReplySerial(7)

	buf := encodeHeader(t, h)
	got := decodeHeaderBytes(t, buf)
	if !got.hasReplySerial || got.ReplySerial != 7 {
		t.Errorf("ReplySerial = %v (present=%v), want 7 (present)", got.ReplySerial, got.hasReplySerial)
	}
}

func TestHeaderValid(t *testing.T) {
	cases := []struct {
		name string
		h    Header
		ok   bool
	}{
		{"method call ok", Header{Type: MethodCall, Serial: 1, Path: "/a", Member: "M"}, true},
		{"method call missing member", Header{Type: MethodCall, Serial: 1, Path: "/a"}, false},
		{"method call missing path", Header{Type: MethodCall, Serial: 1, Member: "M"}, false},
		{"method call bad path", Header{Type: MethodCall, Serial: 1, Path: "no-leading-slash", Member: "M"}, false},
		{"zero serial", Header{Type: MethodCall, Path: "/a", Member: "M"}, false},
		{"signal ok", Header{Type: Signal, Serial: 1, Path: "/a", Interface: "I", Member: "M"}, true},
		{"signal missing interface", Header{Type: Signal, Serial: 1, Path: "/a", Member: "M"}, false},
		{"error missing reply serial", Header{Type: MessageError, Serial: 1, ErrorName: "org.E"}, false},
		{"unknown type", Header{Type: MessageType(99), Serial: 1}, false},
	}
	for _, c := range cases {
		err := c.h.Valid()
		if (err == nil) != c.ok {
			t.Errorf("%s: Valid() = %v, want ok=%v", c.name, err, c.ok)
		}
	}

	withReply := Header{Type: MessageError, Serial: 1, ErrorName: "org.E"}
	withReply.SetReplySerial(1)
	if err := withReply.Valid(); err != nil {
		t.Errorf("error with ReplySerial and ErrorName: Valid() = %v, want nil", err)
	}

	mr := Header{Type: MethodReturn, Serial: 1}
	mr.SetReplySerial(1)
	if err := mr.Valid(); err != nil {
		t.Errorf("method_return with ReplySerial: Valid() = %v, want nil", err)
	}
}

func TestHeaderWantReply(t *testing.T) {
	h := Header{Type: MethodCall}
	if !h.WantReply() {
		t.Errorf("plain method_call WantReply() = false, want true")
	}
	h.Flags = FlagNoReplyExpected
	if h.WantReply() {
		t.Errorf("no-reply-expected method_call WantReply() = true, want false")
	}
	sig := Header{Type: Signal}
	if sig.WantReply() {
		t.Errorf("signal WantReply() = true, want false")
	}
}

func TestDecodeHeaderSkipsUnknownField(t *testing.T) {
	e := &fragments.Encoder{Order: fragments.LittleEndian}
	e.ByteOrderFlag()
	e.Uint8(byte(Signal))
	e.Uint8(0)
	e.Uint8(1)
	e.Uint32(0)
	e.Uint32(5)
	e.Array(true, func() error {
		return e.Struct(func() error {
			// An unrecognized field code with a string-typed value,
			// which decodeHeader must skip rather than reject.
			e.Uint8(200)
			e.Signature("s")
			e.String("unknown field payload")
			return nil
		})
	})
	e.Pad(8)

	d := &fragments.Decoder{In: bytes.NewReader(e.Out)}
	h, err := decodeHeader(d)
	if err != nil {
		t.Fatalf("decodeHeader with unknown field: %v", err)
	}
	if h.Serial != 5 {
		t.Errorf("Serial = %d, want 5", h.Serial)
	}
}
