package protocol

// This package implements the encoding and framing of the messages that msgr
// peers exchange over a stream connection.
//
// A message is a protobuf (proto3) encoded record:
//
//   ```
//   message Message {
//     int64          sender    = 1;
//     int64          recipient = 2;
//     MessageContent content   = 3;
//   }
//
//   message MessageContent {
//     string contents = 1;
//   }
//   ```
//
// `sender` and `recipient` are carried but never interpreted. `content` is
// optional, a message without content is not the same thing as a message with
// empty contents.
//
// === Framing
//
// A stream transport does not preserve write boundaries: one read can return
// half a message, or three messages and the start of a fourth. Every encoded
// message is therefore prefixed with its length:
//
//   ```
//   <len: 4 bytes, big-endian uint32><len bytes of encoded Message>
//   ```
//
// The reading side accumulates bytes until it holds a whole frame, see Framer
// and FrameReader.
//
// - A declared length above the configured maximum frame size is a protocol
//   error. The stream can't be trusted after that and is not resynchronised.
// - The stream ending with part of a frame buffered is a protocol error.
// - The stream ending exactly on a frame boundary is a clean close (io.EOF).
//
// === Errors
//
// Every error produced by this package, and by the transport built on top of
// it, is an *Error tagged with one of four kinds: IO, Encode, Decode and
// Protocol. Use KindOf or the Is* helpers to classify them.
//
