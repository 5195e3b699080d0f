package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts a Lua state to safe operations by removing the
// escape hatches the base library leaves open even with io/os closed.
type Sandbox struct {
	L *lua.LState
}

// NewSandbox creates a sandbox for the given state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// safeModules lists the built-in modules require() may load.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Install removes dangerous globals and replaces require with a
// whitelist-based version that cannot load code from disk.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire clears package.path/cpath so nothing can be loaded
// from disk, and installs a require that serves only whitelisted
// built-ins and modules preloaded by the host.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		// Host-preloaded modules (the injected docnexus API).
		if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
			if preload, ok := pkg.RawGetString("preload").(*lua.LTable); ok {
				if loader := preload.RawGetString(name); loader.Type() == lua.LTFunction {
					L.Push(loader)
					L.Push(lua.LString(name))
					L.Call(1, 1)
					return 1
				}
			}
		}

		if safeModules[name] {
			L.Push(L.GetGlobal(name))
			return 1
		}

		L.RaiseError("module %q is not available in the sandbox", name)
		return 0
	}))
}
