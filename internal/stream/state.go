package stream

// State is the lifecycle phase of a [Manager] run.
type State int32

const (
	// StateAwaitingFirstFrame: the first session is open but no audio has
	// been forwarded yet.
	StateAwaitingFirstFrame State = iota

	// StateStreaming: audio is flowing into the current session.
	StateStreaming

	// StateRestarting: the current session hit the duration limit and is
	// being replaced.
	StateRestarting

	// StateClosed: the run has ended, normally or with an error.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingFirstFrame:
		return "awaiting_first_frame"
	case StateStreaming:
		return "streaming"
	case StateRestarting:
		return "restarting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
