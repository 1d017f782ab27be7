package keepalive

// State is the lifecycle position of a Client.
type State int32

// Client states. Disconnected is both the initial state and the state a
// client settles in after Close.
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
