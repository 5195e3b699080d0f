// Package lua provides the Lua runtime integration for the extension
// system. Each extension executes in its own sandboxed Lua state; the
// host injects a "docnexus" module into the state before the entry file
// runs, so registration calls made by the extension resolve to the
// host's shared registry and descriptor types rather than to copies the
// extension could construct on its own.
//
// The sandbox removes filesystem, process, and module-loading access
// from the Lua standard library. This is a robustness measure against
// accidental misuse, not a security boundary: extensions run with full
// process trust.
package lua
