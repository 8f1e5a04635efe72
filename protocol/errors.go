package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds the maximum frame size")
	ErrTruncatedFrame = errors.New("stream ended in the middle of a frame")
	ErrInvalidUTF8    = errors.New("string field is not valid UTF-8")
	ErrWrongWireType  = errors.New("field has an unexpected wire type")
)

// Kind classifies an Error.
type Kind int

const (
	// KindIO is a read, write, accept, connect or bind failure of the transport.
	KindIO Kind = iota + 1

	// KindEncode is a payload that could not be serialised.
	KindEncode

	// KindDecode is a frame whose payload is not a valid encoded Message.
	KindDecode

	// KindProtocol is a violation of the framing rules, e.g. an oversized
	// frame or a stream ending mid-frame.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindEncode:
		return "encode"
	case KindDecode:
		return "decode"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the error type shared by the codec, the framing layer and the
// transport.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IOError reports a failure of the underlying stream.
func IOError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// EncodeError reports a message or frame that cannot be put on the wire.
func EncodeError(op string, err error) error {
	return &Error{Kind: KindEncode, Op: op, Err: err}
}

// DecodeError reports a payload that is not a valid Message.
func DecodeError(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// ProtocolError reports a peer breaking the framing rules.
func ProtocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0 if there is
// none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsIO reports whether err carries a KindIO error.
func IsIO(err error) bool { return KindOf(err) == KindIO }

// IsEncode reports whether err carries a KindEncode error.
func IsEncode(err error) bool { return KindOf(err) == KindEncode }

// IsDecode reports whether err carries a KindDecode error.
func IsDecode(err error) bool { return KindOf(err) == KindDecode }

// IsProtocol reports whether err carries a KindProtocol error.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }
