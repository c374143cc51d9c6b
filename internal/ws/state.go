package ws

// State is the lifecycle state of the transport session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// transitions lists the legal moves. Reconnecting is entered only from an
// involuntary close (Open or Connecting) and left by the timer firing or Disconnect.
// Closing -> Connecting covers a Connect issued while Disconnect is still tearing down.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateOpen, StateReconnecting, StateDisconnected, StateClosing},
	StateOpen:         {StateReconnecting, StateDisconnected, StateClosing},
	StateReconnecting: {StateConnecting, StateDisconnected, StateClosing},
	StateClosing:      {StateDisconnected, StateConnecting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
