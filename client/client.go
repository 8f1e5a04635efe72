package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/msgr/protocol"
	"github.com/luma/msgr/transport"
)

const messageBufferSize = 255

var ErrNotConnected = errors.New("client is not connected")

// Options configures a Client.
type Options struct {
	// Sender and Recipient are stamped on every message sent.
	Sender    int64
	Recipient int64

	MaxFrameSize   int
	WriteQueueSize int
	Trace          bool
}

// Client sends lines of text to a server, one message per line, and surfaces
// the messages the server sends back.
type Client struct {
	opts Options

	mu   sync.Mutex
	conn *transport.Conn

	messages chan protocol.Message
	result   chan error

	log *zap.Logger
}

func New(log *zap.Logger, opts Options) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		opts:     opts,
		messages: make(chan protocol.Message, messageBufferSize),
		result:   make(chan error, 1),
		log:      log,
	}
}

// Connect dials addr and starts the connection. The connection runs until the
// server closes it, ctx is cancelled or Disconnect is called.
func (c *Client) Connect(ctx context.Context, addr string) error {
	conn, err := transport.Dial(ctx, addr, transport.ConnOptions{
		Handler:        transport.HandlerFunc(c.handleMessage),
		MaxFrameSize:   c.opts.MaxFrameSize,
		WriteQueueSize: c.opts.WriteQueueSize,
		Trace:          c.opts.Trace,
		Log:            c.log.Named("conn"),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("Connected", zap.String("addr", addr), zap.Uint64("conn", conn.ID()))

	go func() {
		defer close(c.messages)

		c.result <- conn.Run(ctx)
	}()

	return nil
}

// Messages returns the messages received from the server. The channel is
// closed once the connection has closed.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

// Send wraps contents in a message and sends it.
func (c *Client) Send(ctx context.Context, contents string) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	return conn.Send(ctx, protocol.NewMessage(c.opts.Sender, c.opts.Recipient, contents))
}

// CloseWrite tells the server nothing more will be sent. Messages already
// sent are flushed and replies keep arriving until the server closes.
func (c *Client) CloseWrite() error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	conn.CloseWrite()
	return nil
}

// Disconnect closes the connection without waiting for the server.
func (c *Client) Disconnect() error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	return conn.Close()
}

// Wait blocks until the connection has closed and returns the error that
// closed it, if any.
func (c *Client) Wait(ctx context.Context) error {
	if _, err := c.getConn(); err != nil {
		return err
	}

	select {
	case err := <-c.result:
		// Let later callers see the same result
		c.result <- err
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleMessage(ctx context.Context, conn *transport.Conn, msg protocol.Message) {
	c.log.Debug("Received message",
		zap.Int64("sender", msg.Sender),
		zap.Int64("recipient", msg.Recipient),
		zap.String("contents", msg.GetContents()))

	select {
	case c.messages <- msg:
	case <-ctx.Done():
	}
}

func (c *Client) getConn() (*transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}
