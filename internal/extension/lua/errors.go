package lua

import "errors"

// Lua runtime errors.
var (
	// ErrStateClosed is returned when using a closed state.
	ErrStateClosed = errors.New("lua: state is closed")

	// ErrNotAFunction is returned when a named global is not callable.
	ErrNotAFunction = errors.New("lua: global is not a function")
)
