package protocol

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldSender    protowire.Number = 1
	fieldRecipient protowire.Number = 2
	fieldContent   protowire.Number = 3

	fieldContents protowire.Number = 1
)

// Encode serialises m into its protobuf wire form.
func Encode(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the wire form of m to b.
//
// Zero valued scalars are omitted, as proto3 does. A non-nil Content is
// always written, even when empty, so its presence survives a round trip.
func AppendMessage(b []byte, m Message) ([]byte, error) {
	if m.Sender != 0 {
		b = protowire.AppendTag(b, fieldSender, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Sender))
	}

	if m.Recipient != 0 {
		b = protowire.AppendTag(b, fieldRecipient, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Recipient))
	}

	if m.Content != nil {
		if !utf8.ValidString(m.Content.Contents) {
			return nil, EncodeError("encode contents", ErrInvalidUTF8)
		}

		b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(contentSize(m.Content)))

		if m.Content.Contents != "" {
			b = protowire.AppendTag(b, fieldContents, protowire.BytesType)
			b = protowire.AppendString(b, m.Content.Contents)
		}
	}

	return b, nil
}

func contentSize(c *Content) int {
	if c.Contents == "" {
		return 0
	}

	return protowire.SizeTag(fieldContents) + protowire.SizeBytes(len(c.Contents))
}

// Decode parses the wire form of a single Message. Unknown fields are
// skipped. A repeated content field is merged into the previous one, as
// protobuf does for embedded messages.
func Decode(b []byte) (Message, error) {
	var m Message

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, DecodeError("decode message", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldSender, fieldRecipient:
			if typ != protowire.VarintType {
				return Message{}, DecodeError("decode message", wireTypeError(num, typ))
			}

			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, DecodeError("decode message", protowire.ParseError(n))
			}
			b = b[n:]

			if num == fieldSender {
				m.Sender = int64(v)
			} else {
				m.Recipient = int64(v)
			}

		case fieldContent:
			if typ != protowire.BytesType {
				return Message{}, DecodeError("decode message", wireTypeError(num, typ))
			}

			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, DecodeError("decode message", protowire.ParseError(n))
			}
			b = b[n:]

			if m.Content == nil {
				m.Content = &Content{}
			}

			if err := decodeContent(v, m.Content); err != nil {
				return Message{}, err
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, DecodeError("decode message", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return m, nil
}

func decodeContent(b []byte, c *Content) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DecodeError("decode content", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldContents {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DecodeError("decode content", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if typ != protowire.BytesType {
			return DecodeError("decode content", wireTypeError(num, typ))
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return DecodeError("decode content", protowire.ParseError(n))
		}
		b = b[n:]

		if !utf8.Valid(v) {
			return DecodeError("decode content", ErrInvalidUTF8)
		}

		c.Contents = string(v)
	}

	return nil
}

func wireTypeError(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("%w: field %d has wire type %d", ErrWrongWireType, num, typ)
}
