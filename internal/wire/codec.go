package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope couples a MessageType prefix byte with the marshaled message body, mirroring the
// teacher's frame.go ToFrame/FromFrame shape but built on protowire primitives instead of a
// generated protobuf message (see package doc).
type Envelope struct {
	Type MessageType
	Body []byte
}

func EncodeEnvelope(message any) ([]byte, error) {
	env, err := ToEnvelope(message)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(env.Body)+1)
	b = append(b, byte(env.Type))
	b = append(b, env.Body...)
	return b, nil
}

func DecodeEnvelope(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	return FromEnvelope(Envelope{Type: MessageType(b[0]), Body: b[1:]})
}

func ToEnvelope(message any) (Envelope, error) {
	switch m := message.(type) {
	case *Bind:
		return Envelope{MessageTypeBind, marshalBind(m)}, nil
	case *IdentRequest:
		return Envelope{MessageTypeIdentRequest, marshalIdentRequest(m)}, nil
	case *Upload:
		return Envelope{MessageTypeUpload, marshalUpload(m)}, nil
	case *Query:
		return Envelope{MessageTypeQuery, marshalQuery(m)}, nil
	case *Mark:
		return Envelope{MessageTypeMark, marshalMark(m)}, nil
	case *Unbind:
		return Envelope{MessageTypeUnbind, marshalUnbind(m)}, nil
	case *Ping:
		return Envelope{MessageTypePing, marshalPing(m)}, nil
	case *TestCommand:
		return Envelope{MessageTypeTestCommand, marshalTestCommand(m)}, nil
	case *ClientError:
		return Envelope{MessageTypeClientError, m.JSON}, nil
	case *IdentResponse:
		return Envelope{MessageTypeIdentResponse, marshalIdentResponse(m)}, nil
	case *Download:
		return Envelope{MessageTypeDownload, marshalDownload(m)}, nil
	case *MarkAck:
		return Envelope{MessageTypeMarkAck, marshalMarkAck(m)}, nil
	case *Unbound:
		return Envelope{MessageTypeUnbound, marshalUnbound(m)}, nil
	case *Pong:
		return Envelope{MessageTypePong, marshalPong(m)}, nil
	case *Error:
		return Envelope{MessageTypeError, marshalError(m)}, nil
	case *QueryError:
		return Envelope{MessageTypeQueryError, marshalQueryError(m)}, nil
	case *TestCommandReply:
		return Envelope{MessageTypeTestCommandReply, marshalTestCommandReply(m)}, nil
	default:
		return Envelope{}, fmt.Errorf("wire: unknown message type %T", message)
	}
}

func FromEnvelope(env Envelope) (any, error) {
	switch env.Type {
	case MessageTypeBind:
		return unmarshalBind(env.Body)
	case MessageTypeIdentRequest:
		return unmarshalIdentRequest(env.Body)
	case MessageTypeUpload:
		return unmarshalUpload(env.Body)
	case MessageTypeQuery:
		return unmarshalQuery(env.Body)
	case MessageTypeMark:
		return unmarshalMark(env.Body)
	case MessageTypeUnbind:
		return unmarshalUnbind(env.Body)
	case MessageTypePing:
		return unmarshalPing(env.Body)
	case MessageTypeTestCommand:
		return unmarshalTestCommand(env.Body)
	case MessageTypeClientError:
		return &ClientError{JSON: append([]byte{}, env.Body...)}, nil
	case MessageTypeIdentResponse:
		return unmarshalIdentResponse(env.Body)
	case MessageTypeDownload:
		return unmarshalDownload(env.Body)
	case MessageTypeMarkAck:
		return unmarshalMarkAck(env.Body)
	case MessageTypeUnbound:
		return unmarshalUnbound(env.Body)
	case MessageTypePong:
		return unmarshalPong(env.Body)
	case MessageTypeError:
		return unmarshalError(env.Body)
	case MessageTypeQueryError:
		return unmarshalQueryError(env.Body)
	case MessageTypeTestCommandReply:
		return unmarshalTestCommandReply(env.Body)
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", env.Type)
	}
}

// field helpers, thin wrappers over protowire's varint/bytes/fixed64 primitives

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	return appendUint64(b, num, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	return appendBytes(b, num, []byte(v))
}

func appendFloat64(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// fieldVisitor is called once per (number, type, raw value bytes-or-varint) decoded from a
// message body; it returns the number of bytes consumed so the caller can advance its cursor.
func consumeFields(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(tagLen))
		}
		rest := b[tagLen:]
		n, err := visit(num, typ, rest)
		if err != nil {
			return err
		}
		b = rest[n:]
	}
	return nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeFixed64(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad fixed64: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func bitsToFloat64(v uint64) float64 {
	return math.Float64frombits(v)
}
