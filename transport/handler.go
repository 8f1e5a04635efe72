package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/luma/msgr/protocol"
)

// Handler reacts to the messages decoded on a connection.
//
// HandleMessage runs on the connection's read loop, no further frames are
// read until it returns. It may call conn.Send. ctx is cancelled when the
// connection is shutting down, a handler that blocks must watch it.
type Handler interface {
	HandleMessage(ctx context.Context, conn *Conn, msg protocol.Message)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions
// as message handlers.
type HandlerFunc func(ctx context.Context, conn *Conn, msg protocol.Message)

// HandleMessage calls f(ctx, conn, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, conn *Conn, msg protocol.Message) {
	f(ctx, conn, msg)
}

func discard(context.Context, *Conn, protocol.Message) {}

// EchoHandler logs every message and sends its contents back to the peer as a
// new message, with sender and recipient swapped.
func EchoHandler(log *zap.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, conn *Conn, msg protocol.Message) {
		log.Info("Received message",
			zap.Uint64("conn", conn.ID()),
			zap.String("peer", conn.PeerAddr()),
			zap.Int64("sender", msg.Sender),
			zap.Int64("recipient", msg.Recipient),
			zap.Bool("hasContent", msg.HasContent()),
			zap.String("contents", msg.GetContents()))

		reply := protocol.NewMessage(msg.Recipient, msg.Sender, msg.GetContents())
		if err := conn.Send(ctx, reply); err != nil {
			log.Warn("Failed to echo message",
				zap.Uint64("conn", conn.ID()),
				zap.Error(err))
		}
	})
}
