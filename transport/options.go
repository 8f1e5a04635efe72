package transport

import (
	"go.uber.org/zap"

	"github.com/luma/msgr/protocol"
	"github.com/luma/msgr/registry"
)

// Options configures the TCP acceptor.
type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT, which lets NumListeners
	// listeners share the port.
	Reuseport bool

	// NumListeners defaults to runtime.NumCPU() when Reuseport is set and to 1
	// otherwise.
	NumListeners int

	// Conn is applied to every accepted connection.
	Conn ConnOptions

	Log *zap.Logger
}

// ConnOptions configures a single connection.
type ConnOptions struct {
	// Handler receives every message decoded on the connection. Required.
	Handler Handler

	// MaxFrameSize bounds the payload of a frame in both directions.
	MaxFrameSize int

	// WriteQueueSize is the number of outbound frames that can be queued
	// ahead of the write loop. Zero hands frames straight to it, so a slow
	// peer slows Send down.
	WriteQueueSize int

	// Trace will dump frames to the debug log. This is only useful in local debugging
	Trace bool

	Registry registry.Registry

	Log *zap.Logger
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}

	if o.WriteQueueSize < 0 {
		o.WriteQueueSize = 0
	}

	if o.Handler == nil {
		o.Handler = HandlerFunc(discard)
	}

	if o.Registry == nil {
		o.Registry = registry.Nop{}
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
