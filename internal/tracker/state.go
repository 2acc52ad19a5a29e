package tracker

// State is the controller lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	// StateFailed is terminal; handlers never attach.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
