package extension

// State represents the lifecycle state of a discovered extension.
type State int

// Extension states.
const (
	// StateUnloaded - discovered but not executed.
	StateUnloaded State = iota

	// StateLoaded - entry file executed, contributions registered.
	StateLoaded

	// StateError - discovery or load failed.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
