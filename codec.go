package keepalive

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Codec converts messages to frames and back.
//
// Decode inspects buf without retaining it. When buf does not yet hold a
// complete frame it returns n == 0 and a nil error, and the caller keeps the
// bytes until more data arrives. Otherwise it returns the message and the
// number of bytes the frame occupied.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode(buf []byte) (msg Message, n int, err error)
}

// lengthFieldSize is the size of the LengthFieldCodec prefix.
const lengthFieldSize = 4

// LengthFieldCodec frames a message as a 4-byte big-endian length followed
// by the serialized message. This is the default wire format.
type LengthFieldCodec struct {
	// MaxFrameLength bounds the payload size. Zero means no limit beyond
	// what the prefix can express.
	MaxFrameLength int
}

// Encode returns [length][payload].
func (c LengthFieldCodec) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload := m.Marshal()
	if err := checkFrameLength(uint64(len(payload)), c.MaxFrameLength); err != nil {
		return nil, err
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrMessageTooLarge
	}

	frame := make([]byte, lengthFieldSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthFieldSize:], payload)
	return frame, nil
}

// Decode reads one frame from the front of buf.
func (c LengthFieldCodec) Decode(buf []byte) (Message, int, error) {
	if len(buf) < lengthFieldSize {
		return Message{}, 0, nil
	}

	length := uint64(binary.BigEndian.Uint32(buf))
	if err := checkFrameLength(length, c.MaxFrameLength); err != nil {
		return Message{}, 0, err
	}

	end := lengthFieldSize + int(length)
	if len(buf) < end {
		return Message{}, 0, nil
	}

	m, err := UnmarshalMessage(buf[lengthFieldSize:end])
	if err != nil {
		return Message{}, 0, err
	}
	return m, end, nil
}

// VarintCodec frames a message with a base-128 varint32 length prefix, the
// framing used by protobuf stream peers.
type VarintCodec struct {
	MaxFrameLength int
}

// maxVarint32Len is the longest encoding of a 32-bit varint.
const maxVarint32Len = 5

// Encode returns [varint length][payload].
func (c VarintCodec) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload := m.Marshal()
	if err := checkFrameLength(uint64(len(payload)), c.MaxFrameLength); err != nil {
		return nil, err
	}
	if uint64(len(payload)) > math.MaxInt32 {
		return nil, ErrMessageTooLarge
	}

	frame := make([]byte, 0, protowire.SizeVarint(uint64(len(payload)))+len(payload))
	frame = protowire.AppendVarint(frame, uint64(len(payload)))
	return append(frame, payload...), nil
}

// Decode reads one frame from the front of buf.
func (c VarintCodec) Decode(buf []byte) (Message, int, error) {
	length, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		err := protowire.ParseError(n)
		if errors.Is(err, io.ErrUnexpectedEOF) && len(buf) < maxVarint32Len {
			return Message{}, 0, nil
		}
		return Message{}, 0, malformed(err, "length prefix")
	}
	if n > maxVarint32Len || length > math.MaxInt32 {
		return Message{}, 0, malformed(nil, "length prefix overflows varint32")
	}
	if err := checkFrameLength(length, c.MaxFrameLength); err != nil {
		return Message{}, 0, err
	}

	end := n + int(length)
	if len(buf) < end {
		return Message{}, 0, nil
	}

	m, err := UnmarshalMessage(buf[n:end])
	if err != nil {
		return Message{}, 0, err
	}
	return m, end, nil
}

func checkFrameLength(length uint64, limit int) error {
	if limit > 0 && length > uint64(limit) {
		return errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes exceeds %d", length, limit)
	}
	return nil
}

// Decoder buffers a byte stream and splits it into messages.
// It is not safe for concurrent use; each connection owns one.
type Decoder struct {
	codec Codec
	buf   []byte
}

// NewDecoder returns a Decoder that frames with codec.
func NewDecoder(codec Codec) *Decoder {
	return &Decoder{codec: codec}
}

// Feed appends stream bytes to the internal buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete message. ok is false when the buffered
// bytes do not hold a whole frame; they stay buffered for the next Feed.
func (d *Decoder) Next() (m Message, ok bool, err error) {
	m, n, err := d.codec.Decode(d.buf)
	if err != nil || n == 0 {
		return Message{}, false, err
	}

	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		// release the backing array once fully drained
		d.buf = nil
	}
	return m, true, nil
}

// Buffered reports how many bytes are waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
