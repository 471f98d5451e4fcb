package supervisor

// State is the lifecycle phase of the Supervisor.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateFinishing
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Active reports whether a worker exists in this state.
func (s State) Active() bool {
	return s == StateRunning || s == StateFinishing || s == StateCancelling
}
