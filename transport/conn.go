package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/msgr/protocol"
)

// ErrConnClosed is returned by Send once the connection no longer accepts
// outbound messages.
var ErrConnClosed = errors.New("connection closed")

// aLongTimeAgo is a deadline in the past, setting it unblocks pending reads
// and writes without closing the socket.
var aLongTimeAgo = time.Unix(1, 0)

var nextConnID atomic.Uint64

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// Stats counts the traffic of a connection. Byte counts include frame
// headers.
type Stats struct {
	FramesIn  int64 `json:"framesIn"`
	FramesOut int64 `json:"framesOut"`
	BytesIn   int64 `json:"bytesIn"`
	BytesOut  int64 `json:"bytesOut"`
}

// Conn is one framed message stream.
//
// Once Run is called the stream is split: a read loop owns the read half and
// the frame buffer, a write loop owns the write half. Send hands encoded
// frames to the write loop and is safe for concurrent use.
type Conn struct {
	id   uint64
	conn net.Conn
	peer string
	opts ConnOptions
	log  *zap.Logger

	state atomic.Int32

	errMu sync.Mutex
	err   error

	writeQueue chan []byte

	// Send holds sendMu for reading while it queues a frame, the write loop
	// takes it for writing once writeStopped is set so no Send is left
	// mid-way when it drains the queue.
	sendMu           sync.RWMutex
	writeStopped     syncx.DoneChan
	writeStoppedOnce sync.Once

	// closing is signalled by Close, stopWrite by CloseWrite and done once
	// both halves have been released.
	closing       syncx.DoneChan
	stopWrite     syncx.DoneChan
	stopWriteOnce sync.Once
	done          syncx.DoneChan

	framesIn  atomic.Int64
	framesOut atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
}

// NewConn wraps an established stream. The connection stays in
// StateConnecting until Run is called.
func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	opts = opts.withDefaults()

	id := nextConnID.Add(1)
	peer := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}

	c := &Conn{
		id:         id,
		conn:       conn,
		peer:       peer,
		opts:       opts,
		log:        opts.Log.With(zap.Uint64("conn", id), zap.String("peer", peer)),
		writeQueue: make(chan []byte, opts.WriteQueueSize),

		writeStopped: syncx.NewDoneChan(),
		closing:      syncx.NewDoneChan(),
		stopWrite:    syncx.NewDoneChan(),
		done:         syncx.NewDoneChan(),
	}

	if err := opts.Registry.Register(id, peer); err != nil {
		c.log.Warn("Failed to register connection", zap.Error(err))
	}
	c.record("state", StateConnecting.String())

	return c
}

func (c *Conn) ID() uint64 {
	return c.id
}

// PeerAddr returns the remote address as it was when the connection was
// established.
func (c *Conn) PeerAddr() string {
	return c.peer
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Err returns the error that moved the connection to StateErrored, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.err
}

// Done is signalled once the connection is closed.
func (c *Conn) Done() syncx.DoneChanR {
	return c.done.R()
}

func (c *Conn) Stats() Stats {
	return Stats{
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
	}
}

// Run starts the read and write loops and blocks until both have exited and
// the stream is closed.
//
// It returns nil when the connection ended cleanly: the peer closed its side
// at a frame boundary, ctx was cancelled or Close was called. Anything else is
// returned as the error that ended it.
func (c *Conn) Run(ctx context.Context) error {
	if _, ok := c.advance(StateOpen); !ok {
		return ErrConnClosed
	}

	c.log.Info("Connection open")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	group, gctx := errgroup.WithContext(runCtx)
	readDone := make(chan struct{})

	group.Go(func() error {
		defer close(readDone)
		return c.readLoop(gctx)
	})

	group.Go(func() error {
		return c.writeLoop(gctx, readDone)
	})

	stop := make(chan struct{})
	interrupted := make(chan struct{})

	go func() {
		defer close(interrupted)

		select {
		case <-gctx.Done():
		case <-c.closing:
		case <-stop:
			return
		}

		// Unblock both loops and any handler waiting on the context, the
		// socket itself is closed once they're gone
		cancelRun()
		_ = c.conn.SetDeadline(aLongTimeAgo)
	}()

	err := group.Wait()
	close(stop)
	<-interrupted

	c.release(err)

	return err
}

// Send encodes msg and queues it for the write loop. It blocks until the
// write loop takes the frame, ctx is done or the connection stops accepting
// messages.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.EncodeFrame(msg, c.opts.MaxFrameSize)
	if err != nil {
		return err
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if !c.accepting() {
		return ErrConnClosed
	}

	select {
	case c.writeQueue <- frame:
		return nil

	case <-c.writeStopped:
		return ErrConnClosed

	case <-c.stopWrite:
		return ErrConnClosed

	case <-c.closing:
		return ErrConnClosed

	case <-c.done:
		return ErrConnClosed

	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWrite stops accepting messages, flushes the ones already queued and
// shuts down the write side of the stream. Reading carries on until the peer
// closes its side.
func (c *Conn) CloseWrite() {
	c.stopWriteOnce.Do(c.stopWrite.SetDone)
}

// Close asks the connection to shut down and returns immediately, wait on
// Done to know when it has. Frames still queued are discarded. A connection
// that was never run is released straight away.
func (c *Conn) Close() error {
	from, ok := c.advance(StateClosing)
	if !ok {
		return nil
	}

	c.closing.SetDone()

	if from == StateConnecting {
		c.release(nil)
	}

	return nil
}

func (c *Conn) readLoop(ctx context.Context) error {
	log := c.log.Named("readLoop")

	defer func() {
		if cr, ok := c.conn.(closeReader); ok {
			if err := cr.CloseRead(); err != nil {
				log.Debug("Failed to close reads on connection cleanly", zap.Error(err))
			}
		}

		log.Debug("Read loop exited")
	}()

	reader := protocol.NewFrameReader(c.conn, c.opts.MaxFrameSize)

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			return c.readFailed(ctx, log, err)
		}

		c.framesIn.Add(1)
		c.bytesIn.Add(int64(protocol.HeaderLen + len(payload)))

		if c.opts.Trace {
			log.Debug("Read frame", zap.String("payload", hex.EncodeToString(payload)))
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			// The length prefix was fine, so the next frame is still aligned
			log.Warn("Dropping undecodable frame",
				zap.Int("size", len(payload)),
				zap.Error(err))
			continue
		}

		c.opts.Handler.HandleMessage(ctx, c, msg)
	}
}

func (c *Conn) readFailed(ctx context.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		log.Info("Peer closed the connection")
		c.advance(StateClosing)
		return nil

	case errors.Is(err, protocol.ErrTruncatedFrame):
		log.Warn("Peer closed the connection mid-frame")
		c.advance(StateClosing)
		return err

	case c.stopping(ctx):
		log.Debug("Read interrupted by shutdown", zap.Error(err))
		return nil

	default:
		return err
	}
}

func (c *Conn) writeLoop(ctx context.Context, readDone <-chan struct{}) error {
	log := c.log.Named("writeLoop")

	defer func() {
		if cw, ok := c.conn.(closeWriter); ok {
			if err := cw.CloseWrite(); err != nil {
				log.Debug("Failed to close writes on connection cleanly", zap.Error(err))
			}
		}

		log.Debug("Write loop exited")
	}()

	defer c.stopSends()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.closing:
			return nil

		case <-readDone:
			// The peer is done sending but may still be reading
			return c.drain(ctx, log)

		case <-c.stopWrite:
			return c.drain(ctx, log)

		case frame := <-c.writeQueue:
			if err := c.write(ctx, log, frame); err != nil {
				return err
			}
		}
	}
}

// stopSends makes Send refuse new frames and waits for the ones already
// queueing to land in the queue.
func (c *Conn) stopSends() {
	c.writeStoppedOnce.Do(func() {
		c.writeStopped.SetDone()

		c.sendMu.Lock()
		defer c.sendMu.Unlock()
	})
}

// drain writes every frame Send has accepted, then stops the write loop.
func (c *Conn) drain(ctx context.Context, log *zap.Logger) error {
	c.stopSends()

	for {
		select {
		case frame := <-c.writeQueue:
			if err := c.write(ctx, log, frame); err != nil {
				return err
			}

		default:
			log.Debug("Write side closed", zap.Int64("framesOut", c.framesOut.Load()))
			return nil
		}
	}
}

func (c *Conn) write(ctx context.Context, log *zap.Logger, frame []byte) error {
	if _, err := c.conn.Write(frame); err != nil {
		if c.stopping(ctx) {
			log.Debug("Write interrupted by shutdown", zap.Error(err))
			return nil
		}

		return protocol.IOError("write frame", err)
	}

	c.framesOut.Add(1)
	c.bytesOut.Add(int64(len(frame)))

	if c.opts.Trace {
		log.Debug("Wrote frame", zap.String("frame", hex.EncodeToString(frame)))
	}

	return nil
}

// release closes the stream once nothing is using either half.
func (c *Conn) release(err error) {
	if err != nil {
		c.setErr(err)
		c.advance(StateErrored)
	} else {
		c.advance(StateClosing)
	}

	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		c.log.Debug("Failed to close connection cleanly", zap.Error(cerr))
	}

	c.advance(StateClosed)
	c.done.SetDone()

	stats := c.Stats()
	if err != nil {
		c.log.Warn("Connection closed with error", zap.Any("stats", stats), zap.Error(err))
	} else {
		c.log.Info("Connection closed", zap.Any("stats", stats))
	}

	if rerr := c.opts.Registry.Remove(c.id); rerr != nil {
		c.log.Debug("Failed to unregister connection", zap.Error(rerr))
	}
}

// advance moves the connection forward to state to. It does nothing, and
// returns false, if the connection is already at or past it.
func (c *Conn) advance(to State) (State, bool) {
	for {
		from := State(c.state.Load())
		if from >= to {
			return from, false
		}

		if c.state.CompareAndSwap(int32(from), int32(to)) {
			c.log.Debug("Connection state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))

			c.record("state", to.String())
			if to == StateErrored {
				c.record("error", c.Err().Error())
			}

			return from, true
		}
	}
}

func (c *Conn) publishStats() {
	c.record("stats", c.Stats())
}

func (c *Conn) record(field string, value interface{}) {
	if err := c.opts.Registry.Set(c.id, field, value); err != nil {
		c.log.Debug("Failed to update registry",
			zap.String("field", field),
			zap.Error(err))
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	c.err = err
}

// accepting reports whether Send may still queue frames.
func (c *Conn) accepting() bool {
	return !c.writeStopped.R().Done() &&
		!c.stopWrite.R().Done() &&
		!c.closing.R().Done() &&
		!c.done.R().Done()
}

// stopping reports whether a local shutdown has been requested, in which case
// I/O errors are expected.
func (c *Conn) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || c.closing.R().Done()
}
