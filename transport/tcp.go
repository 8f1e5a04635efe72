package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/msgr/protocol"
	"github.com/luma/msgr/registry"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// TCP accepts stream connections and runs each one until it closes.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	host         string
	port         int
	reuseport    bool
	numListeners int
	listeners    []*TCPListener

	connOpts ConnOptions

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = 1
		if options.Reuseport {
			numListeners = runtime.NumCPU()
		}
	}

	if !options.Reuseport {
		// Without SO_REUSEPORT only one socket can bind the address
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	connOpts := options.Conn
	if connOpts.Log == nil {
		connOpts.Log = log.Named("conn")
	}

	return &TCP{
		host:         options.Host,
		port:         options.Port,
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		connOpts:     connOpts.withDefaults(),
		log:          log,
	}
}

// Start binds every listener and starts accepting connections. A bind
// failure closes whatever was already bound and is returned.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	port := t.port

	for i := 0; i < t.numListeners; i++ {
		listener, err := t.listen(ctx, net.JoinHostPort(t.host, strconv.Itoa(port)), i)
		if err != nil {
			cancel()
			if cerr := t.closeListeners(); cerr != nil {
				t.log.Warn("Failed to close listeners after bind failure", zap.Error(cerr))
			}

			return err
		}

		if port == 0 {
			// The remaining listeners have to share the port the first one was given
			port = listener.Addr().(*net.TCPAddr).Port
		}

		t.listeners = append(t.listeners, listener)
	}

	for _, listener := range t.listeners {
		t.stopWaiter.Add(1)

		go func(listener *TCPListener) {
			defer t.stopWaiter.Done()
			listener.Serve()
		}(listener)
	}

	return nil
}

func (t *TCP) listen(ctx context.Context, addr string, index int) (*TCPListener, error) {
	var (
		ln  net.Listener
		err error
	)

	if t.reuseport {
		ln, err = reuseport.Listen("tcp", addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return nil, pkgerrors.Wrapf(protocol.IOError("listen", err), "bind %s", addr)
	}

	return NewTCPListener(ctx, ln, t.connOpts, t.log.Named("listener").With(zap.Int("listener", index))), nil
}

// Addr returns the address the listeners are bound to, or nil before Start.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Registry returns the registry every accepted connection records itself in.
func (t *TCP) Registry() registry.Registry {
	return t.connOpts.Registry
}

// NumConns returns the number of connections currently running.
func (t *TCP) NumConns() int {
	n := 0
	for _, listener := range t.listeners {
		n += listener.NumConns()
	}

	return n
}

// Snapshot refreshes the traffic counters of every running connection in the
// registry and returns the registry document.
func (t *TCP) Snapshot() ([]byte, error) {
	for _, listener := range t.listeners {
		listener.publishStats()
	}

	return t.connOpts.Registry.Snapshot()
}

// Close immediately stops accepting, closes every active connection and
// waits for all of them to be released.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")

	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.log.Info("Waiting for listeners")
	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// TCPListener accepts connections on one socket.
type TCPListener struct {
	ctx      context.Context
	listener net.Listener
	connOpts ConnOptions
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*Conn]struct{}
	connWaiter  sync.WaitGroup
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	connOpts ConnOptions,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		connOpts:    connOpts,
		activeConns: make(map[*Conn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Serve accepts connections until the listener is closed. Failed accepts are
// retried with a growing backoff, each connection is run on its own
// goroutine. Serve waits for every connection it started before returning.
func (t *TCPListener) Serve() {
	t.log.Info("Listening", zap.Stringer("addr", t.listener.Addr()))

	defer func() {
		t.log.Info("Waiting for connections to close")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	var backoff time.Duration

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new connections,
				// that's fine.
				return
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}

			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}

			t.log.Warn("Failed to accept connection, retrying",
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-time.After(backoff):
			case <-t.ctx.Done():
				return
			}

			continue
		}

		backoff = 0

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		c := NewConn(conn, t.connOpts)
		t.addConn(c)

		t.connWaiter.Add(1)
		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(c)

			// Errors are logged by the connection itself and never stop the listener
			_ = c.Run(t.ctx)
		}()
	}
}

// Close stops accepting and closes active connections without waiting for
// them.
func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) NumConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.activeConns)
}

func (t *TCPListener) publishStats() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		conn.publishStats()
	}
}

func (t *TCPListener) addConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}
