package extension

import "errors"

// Extension system errors.
var (
	// ErrNotFound is returned when an extension cannot be located.
	ErrNotFound = errors.New("extension not found")

	// ErrNoEntryPoint is returned when a directory has no plugin.lua.
	ErrNoEntryPoint = errors.New("extension has no entry point (plugin.lua)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrAlreadyLoaded is returned when loading an already loaded extension.
	ErrAlreadyLoaded = errors.New("extension is already loaded")

	// ErrNotLoaded is returned when using an unloaded extension.
	ErrNotLoaded = errors.New("extension is not loaded")

	// ErrPreinstalled is returned when uninstalling a preinstalled extension.
	ErrPreinstalled = errors.New("preinstalled extension cannot be uninstalled")
)
