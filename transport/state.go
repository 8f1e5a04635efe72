package transport

// State is a point in a connection's lifecycle. States only ever move
// forward, in the order they are declared.
type State int32

const (
	// StateConnecting is a connection that has been accepted or dialed but
	// is not running yet.
	StateConnecting State = iota

	// StateOpen is a running connection, both halves usable.
	StateOpen

	// StateClosing is a connection whose peer shut down its side cleanly, or
	// that was asked to close locally.
	StateClosing

	// StateErrored is a connection that hit an I/O or protocol error. The
	// error is available from Conn.Err.
	StateErrored

	// StateClosed is a connection whose halves have both been released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
