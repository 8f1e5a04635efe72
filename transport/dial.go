package transport

import (
	"context"
	"net"

	pkgerrors "github.com/pkg/errors"

	"github.com/luma/msgr/protocol"
)

// Dial connects to addr once and wraps the stream in a Conn, ready to Run.
func Dial(ctx context.Context, addr string, opts ConnOptions) (*Conn, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(protocol.IOError("dial", err), "connect to %s", addr)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return NewConn(conn, opts), nil
}
