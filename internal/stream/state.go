package stream

// State is the connection lifecycle of a Connector.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Live reports whether snapshots are currently flowing.
func (s State) Live() bool {
	return s == Connected
}
