package lua

import (
	"context"
	"html"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

// Capability kind and lifecycle tokens exposed to Lua. Entry files use
// these in the tables they return from capabilities().
const (
	TokenStandard      = "STANDARD"
	TokenExperimental  = "EXPERIMENTAL"
	TokenAlgorithm     = "ALGORITHM"
	TokenExportHandler = "EXPORT_HANDLER"
	TokenUIExtension   = "UI_EXTENSION"
)

// HostAPI is what the host injects into an extension's Lua state.
// Registration callbacks are bound to the host's shared registry, so
// whatever the extension registers lands in the same store the host
// reads. Extensions never construct their own registry.
type HostAPI struct {
	// PluginID is the owning extension's identifier.
	PluginID string

	// Enabled mirrors the enablement store at load time. Extensions
	// that gate their own capabilities read docnexus.enabled the way
	// a plugin would consult its install state.
	Enabled bool

	// RegisterSlot contributes a fragment to a named UI slot.
	RegisterSlot func(slot, fragment string)

	// Logger receives the extension's docnexus.log output. Falls back
	// to slog.Default when nil.
	Logger *slog.Logger
}

// Install wires the docnexus module into the state. It is available
// both as the global `docnexus` and via require("docnexus").
func (api *HostAPI) Install(s *State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	L := s.L
	mod := L.NewTable()

	// Shared enum tokens. Injected rather than re-declared by each
	// extension so kind and lifecycle comparisons are string-equal by
	// construction.
	L.SetField(mod, "STANDARD", lua.LString(TokenStandard))
	L.SetField(mod, "EXPERIMENTAL", lua.LString(TokenExperimental))
	L.SetField(mod, "ALGORITHM", lua.LString(TokenAlgorithm))
	L.SetField(mod, "EXPORT_HANDLER", lua.LString(TokenExportHandler))
	L.SetField(mod, "UI_EXTENSION", lua.LString(TokenUIExtension))

	L.SetField(mod, "plugin_id", lua.LString(api.PluginID))
	L.SetField(mod, "enabled", lua.LBool(api.Enabled))

	L.SetField(mod, "log", L.NewFunction(api.luaLog(slog.LevelInfo)))
	L.SetField(mod, "log_error", L.NewFunction(api.luaLog(slog.LevelError)))

	L.SetField(mod, "html_escape", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(html.EscapeString(L.CheckString(1))))
		return 1
	}))

	L.SetField(mod, "register_slot", L.NewFunction(func(L *lua.LState) int {
		slot := L.CheckString(1)
		fragment := L.CheckString(2)
		if api.RegisterSlot != nil {
			api.RegisterSlot(slot, fragment)
		}
		return 0
	}))

	L.SetGlobal("docnexus", mod)
	L.PreloadModule("docnexus", func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
}

// luaLog builds a Lua function logging at the given level with the
// extension's identifier attached.
func (api *HostAPI) luaLog(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		logger := api.Logger
		if logger == nil {
			logger = slog.Default()
		}
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger.Log(ctx, level, msg, "plugin", api.PluginID)
		return 0
	}
}
