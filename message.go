package keepalive

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is the single wire version spoken by this package.
// Unknown payload fields are skipped, so newer peers stay readable.
const ProtocolVersion = 1

// Command identifies what a Message asks for or answers.
type Command int32

// Commands carried on the wire.
const (
	HeartbeatRequest Command = iota
	HeartbeatResponse
	NormalRequest
	NormalResponse
)

func (c Command) String() string {
	switch c {
	case HeartbeatRequest:
		return "HEARTBEAT_REQUEST"
	case HeartbeatResponse:
		return "HEARTBEAT_RESPONSE"
	case NormalRequest:
		return "NORMAL_REQUEST"
	case NormalResponse:
		return "NORMAL_RESPONSE"
	default:
		return fmt.Sprintf("COMMAND(%d)", int32(c))
	}
}

// Payload markers used by heartbeats and built-in replies.
const (
	HeartbeatContent = "heartbeat"
	PongContent      = "pong"
	OkContent        = "ok"
)

// Field numbers of the message schema.
const (
	fieldCommand   protowire.Number = 1
	fieldRequestID protowire.Number = 2
	fieldContent   protowire.Number = 3
)

// Message is the unit of communication. It is a value and is never
// modified after it has been built.
type Message struct {
	Command       Command
	CorrelationID string
	Content       string
}

// NewMessage builds a message with a fresh random correlation id.
func NewMessage(cmd Command, content string) Message {
	return Message{
		Command:       cmd,
		CorrelationID: uuid.NewString(),
		Content:       content,
	}
}

// Reply builds the response to m, keeping its correlation id.
func (m Message) Reply(cmd Command, content string) Message {
	return Message{
		Command:       cmd,
		CorrelationID: m.CorrelationID,
		Content:       content,
	}
}

// Validate reports the problems UnmarshalMessage would reject, so a message
// that passes it always decodes on the peer.
func (m Message) Validate() error {
	if !utf8.ValidString(m.CorrelationID) {
		return malformed(nil, "field %d is not valid UTF-8", fieldRequestID)
	}
	if !utf8.ValidString(m.Content) {
		return malformed(nil, "field %d is not valid UTF-8", fieldContent)
	}
	return nil
}

// Marshal serializes the message with the protobuf wire format.
// It does not validate; codecs call Validate first.
// Zero values are omitted, as proto3 does.
func (m Message) Marshal() []byte {
	b := make([]byte, 0, 16+len(m.CorrelationID)+len(m.Content))
	if m.Command != 0 {
		b = protowire.AppendTag(b, fieldCommand, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Command)))
	}
	if m.CorrelationID != "" {
		b = protowire.AppendTag(b, fieldRequestID, protowire.BytesType)
		b = protowire.AppendString(b, m.CorrelationID)
	}
	if m.Content != "" {
		b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	return b
}

// UnmarshalMessage parses a payload produced by Marshal.
// Any structural problem is reported as ErrMalformedMessage.
func UnmarshalMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, malformed(protowire.ParseError(n), "tag")
		}
		b = b[n:]

		switch num {
		case fieldCommand:
			if typ != protowire.VarintType {
				return Message{}, malformed(nil, "command wire type %d", typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n), "command")
			}
			m.Command = Command(int32(v))
			b = b[n:]
		case fieldRequestID, fieldContent:
			if typ != protowire.BytesType {
				return Message{}, malformed(nil, "field %d wire type %d", num, typ)
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n), "field %d", num)
			}
			if !utf8.ValidString(s) {
				return Message{}, malformed(nil, "field %d is not valid UTF-8", num)
			}
			if num == fieldRequestID {
				m.CorrelationID = s
			} else {
				m.Content = s
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n), "field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func malformed(cause error, format string, args ...any) error {
	if cause == nil {
		return newOpError(ErrMalformedMessage, errors.Errorf(format, args...))
	}
	return newOpError(ErrMalformedMessage, errors.Wrapf(cause, format, args...))
}
