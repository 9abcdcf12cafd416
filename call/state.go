package call

// State is the lifecycle of one call session.
type State int

const (
	// StateCalling is the initial state while the join request is in flight.
	StateCalling State = iota
	// StateCallingTimeout is entered when joining fails after all retries.
	StateCallingTimeout
	// StateEstablished is the only state in which signaling messages are
	// processed.
	StateEstablished
	// StateReconnecting is entered on detected network loss.
	StateReconnecting
	// StateOffline is entered when resuming fails after all retries.
	StateOffline
	// StateLeaving is terminal, entered only by explicit hangup.
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateCalling:
		return "calling"
	case StateCallingTimeout:
		return "calling-timeout"
	case StateEstablished:
		return "established"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	case StateLeaving:
		return "leaving"
	}
	return "unknown"
}

var stateTransitions = map[State][]State{
	StateCalling:      {StateCallingTimeout, StateEstablished},
	StateEstablished:  {StateReconnecting, StateOffline, StateLeaving},
	StateReconnecting: {StateEstablished, StateOffline},
	StateOffline:      {StateReconnecting},
}

// CanTransition reports whether moving to next is a legal transition.
// StateLeaving is reachable from every non-terminal state through Hangup,
// which bypasses this table.
func (s State) CanTransition(next State) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
