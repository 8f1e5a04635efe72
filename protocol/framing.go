package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderLen is the size of the length prefix in front of every frame.
	HeaderLen = 4

	// DefaultMaxFrameSize bounds the payload of a single frame (4MB).
	DefaultMaxFrameSize = 4 * 1024 * 1024

	// DefaultReadSize is how much FrameReader asks the transport for per read.
	DefaultReadSize = 4096

	// maxConsecutiveEmptyReads matches the limit bufio.Reader uses.
	maxConsecutiveEmptyReads = 100
)

// Framer splits an accumulated byte stream into length-prefixed frames.
//
// Bytes are appended with Feed, in whatever chunks the transport happened to
// deliver them, and complete payloads are taken out with Next. A Framer is
// not safe for concurrent use, it belongs to whoever reads the stream.
type Framer struct {
	maxFrameSize int
	buf          []byte

	// err is sticky. Once the stream is known to be broken every call returns it.
	err error
}

// NewFramer returns a Framer rejecting frames larger than maxFrameSize. A
// non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewFramer(maxFrameSize int) *Framer {
	return &Framer{maxFrameSize: normaliseMaxFrameSize(maxFrameSize)}
}

func normaliseMaxFrameSize(maxFrameSize int) int {
	if maxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}

	return maxFrameSize
}

func checkPayloadSize(size, maxFrameSize int) error {
	if size > maxFrameSize || uint64(size) > math.MaxUint32 {
		return EncodeError("write frame",
			fmt.Errorf("%w: payload is %d bytes, limit is %d", ErrFrameTooLarge, size, maxFrameSize))
	}

	return nil
}

// MaxFrameSize returns the payload limit this Framer enforces.
func (f *Framer) MaxFrameSize() int {
	return f.maxFrameSize
}

// Feed appends p to the accumulation buffer. p is copied.
func (f *Framer) Feed(p []byte) {
	if f.err != nil {
		return
	}

	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes held that have not been returned as
// part of a frame yet.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the payload of the next complete frame. ok is false when more
// input is needed. The returned slice is owned by the caller.
func (f *Framer) Next() (payload []byte, ok bool, err error) {
	if f.err != nil {
		return nil, false, f.err
	}

	if len(f.buf) < HeaderLen {
		return nil, false, nil
	}

	size := binary.BigEndian.Uint32(f.buf)
	if uint64(size) > uint64(f.maxFrameSize) {
		f.fail(ProtocolError("read frame",
			fmt.Errorf("%w: declared %d bytes, limit is %d", ErrFrameTooLarge, size, f.maxFrameSize)))

		return nil, false, f.err
	}

	end := HeaderLen + int(size)
	if len(f.buf) < end {
		return nil, false, nil
	}

	payload = make([]byte, size)
	copy(payload, f.buf[HeaderLen:end])

	// Shift the remainder down so the buffer's backing array gets reused
	n := copy(f.buf, f.buf[end:])
	f.buf = f.buf[:n]

	return payload, true, nil
}

// Finish tells the Framer the stream has ended. It returns a protocol error
// if part of a frame is still buffered.
func (f *Framer) Finish() error {
	if f.err != nil {
		return f.err
	}

	if len(f.buf) > 0 {
		f.fail(ProtocolError("read frame",
			fmt.Errorf("%w: %d bytes buffered", ErrTruncatedFrame, len(f.buf))))

		return f.err
	}

	return nil
}

func (f *Framer) fail(err error) {
	f.err = err
	f.buf = nil
}

// FrameReader reads length-prefixed frames from a stream.
type FrameReader struct {
	r      io.Reader
	framer *Framer
	chunk  []byte

	// srcErr is the error the underlying reader returned. It's only reported
	// once every complete frame read before it has been handed out.
	srcErr error
}

// NewFrameReader returns a FrameReader that reads up to DefaultReadSize bytes
// at a time from r.
func NewFrameReader(r io.Reader, maxFrameSize int) *FrameReader {
	return NewFrameReaderSize(r, maxFrameSize, DefaultReadSize)
}

// NewFrameReaderSize is NewFrameReader with an explicit read size.
func NewFrameReaderSize(r io.Reader, maxFrameSize, readSize int) *FrameReader {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}

	return &FrameReader{
		r:      r,
		framer: NewFramer(maxFrameSize),
		chunk:  make([]byte, readSize),
	}
}

// Buffered returns the number of bytes read from the stream that are not part
// of a frame returned yet.
func (fr *FrameReader) Buffered() int {
	return fr.framer.Buffered()
}

// ReadFrame returns the payload of the next frame.
//
// It returns io.EOF when the stream ended cleanly between two frames, a
// protocol error when it ended mid-frame or declared an oversized frame, and
// an IO error for anything the underlying reader failed with.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		payload, ok, err := fr.framer.Next()
		if err != nil {
			return nil, err
		}

		if ok {
			return payload, nil
		}

		if fr.srcErr != nil {
			return nil, fr.terminal()
		}

		fr.fill()
	}
}

func (fr *FrameReader) fill() {
	for i := 0; i < maxConsecutiveEmptyReads; i++ {
		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.framer.Feed(fr.chunk[:n])
		}

		if err != nil {
			fr.srcErr = err
			return
		}

		if n > 0 {
			return
		}
	}

	fr.srcErr = io.ErrNoProgress
}

func (fr *FrameReader) terminal() error {
	if errors.Is(fr.srcErr, io.EOF) {
		if err := fr.framer.Finish(); err != nil {
			return err
		}

		return io.EOF
	}

	return IOError("read frame", fr.srcErr)
}

// AppendFrame appends payload to dst behind its length prefix.
func AppendFrame(dst, payload []byte, maxFrameSize int) ([]byte, error) {
	if err := checkPayloadSize(len(payload), normaliseMaxFrameSize(maxFrameSize)); err != nil {
		return nil, err
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes payload to w as a single frame.
func WriteFrame(w io.Writer, payload []byte, maxFrameSize int) error {
	frame, err := AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload, maxFrameSize)
	if err != nil {
		return err
	}

	if _, err := w.Write(frame); err != nil {
		return IOError("write frame", err)
	}

	return nil
}

// EncodeFrame encodes m and frames it, ready to be written to a stream.
func EncodeFrame(m Message, maxFrameSize int) ([]byte, error) {
	frame, err := AppendMessage(make([]byte, HeaderLen, 64), m)
	if err != nil {
		return nil, err
	}

	size := len(frame) - HeaderLen
	if err := checkPayloadSize(size, normaliseMaxFrameSize(maxFrameSize)); err != nil {
		return nil, err
	}

	binary.BigEndian.PutUint32(frame, uint32(size))
	return frame, nil
}

// ReadMessage reads the next frame from fr and decodes it.
func ReadMessage(fr *FrameReader) (Message, error) {
	payload, err := fr.ReadFrame()
	if err != nil {
		return Message{}, err
	}

	return Decode(payload)
}
