package dbus

import (
	"bytes"
	"os"

	"github.com/creachadair/mds/queue"

	"github.com/slimbus-go/slimbus/fragments"
	"github.com/slimbus-go/slimbus/transport"
)

// MessageReader reads successive framed messages off a transport
// reader, accumulating bytes (and file descriptors) across however
// many short reads it takes to see a whole message, and retaining any
// bytes read past the end of one message for the next call to
// ReadMessage.
type MessageReader struct {
	r   *transport.Reader
	buf []byte
	fds queue.Queue[*os.File]

	recvSeq uint64
}

// NewMessageReader wraps r to produce a stream of [Message] values.
func NewMessageReader(r *transport.Reader) *MessageReader {
	return &MessageReader{r: r}
}

const readChunkSize = 4096

// fill reads from the transport until at least n bytes are buffered.
func (mr *MessageReader) fill(n int) error {
	for len(mr.buf) < n {
		chunk := make([]byte, readChunkSize)
		read, fds, err := mr.r.Recv(chunk)
		if err != nil {
			return err
		}
		mr.buf = append(mr.buf, chunk[:read]...)
		for _, f := range fds {
			mr.fds.Add(f)
		}
	}
	return nil
}

// consume drops the first n bytes of the buffer, retaining anything
// read past them for the next message.
func (mr *MessageReader) consume(n int) {
	rest := len(mr.buf) - n
	copy(mr.buf, mr.buf[n:])
	mr.buf = mr.buf[:rest]
}

func align8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// ReadMessage blocks until a complete message has been read, and
// returns it. It is not safe to call ReadMessage concurrently from
// multiple goroutines.
func (mr *MessageReader) ReadMessage() (*Message, error) {
	if err := mr.fill(MinMessageSize); err != nil {
		return nil, err
	}

	var order fragments.ByteOrder
	switch mr.buf[0] {
	case 'l':
		order = fragments.LittleEndian
	case 'B':
		order = fragments.BigEndian
	default:
		return nil, &IncorrectEndianError{Got: mr.buf[0]}
	}

	fieldsLen := order.Uint32(mr.buf[12:16])
	headerLen := MinMessageSize + int(fieldsLen)
	headerLenPadded := align8(headerLen)

	if uint64(headerLenPadded) > MaxMessageSize {
		return nil, &ExcessDataError{Size: uint64(headerLenPadded)}
	}
	if err := mr.fill(headerLenPadded); err != nil {
		return nil, err
	}

	d := &fragments.Decoder{Order: order, In: bytes.NewReader(mr.buf[:headerLenPadded])}
	h, err := decodeHeader(d)
	if err != nil {
		return nil, err
	}

	total := headerLenPadded + int(h.BodyLen)
	if uint64(total) > MaxMessageSize {
		return nil, &ExcessDataError{Size: uint64(total)}
	}
	if err := mr.fill(total); err != nil {
		return nil, err
	}

	body := make([]byte, h.BodyLen)
	copy(body, mr.buf[headerLenPadded:total])

	var msgFiles []*os.File
	if h.hasUnixFDs && h.UnixFDs > 0 {
		n := int(h.UnixFDs)
		if mr.fds.Len() < n {
			return nil, invalidFieldErrf("message declares %d file descriptors but only %d were received", n, mr.fds.Len())
		}
		for i := 0; i < n; i++ {
			f, _ := mr.fds.Pop()
			msgFiles = append(msgFiles, f)
		}
	}

	mr.consume(total)
	mr.recvSeq++

	return &Message{
		Header:  h,
		Body:    body,
		Files:   msgFiles,
		RecvSeq: mr.recvSeq,
	}, nil
}
