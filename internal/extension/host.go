package extension

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	glua "github.com/yuin/gopher-lua"

	"github.com/docnexus/docnexus/internal/capability"
	"github.com/docnexus/docnexus/internal/extension/lua"
	"github.com/docnexus/docnexus/internal/registry"
)

// capabilitiesFunc is the optional global an entry file exposes to
// declare its capabilities.
const capabilitiesFunc = "capabilities"

// routesGlobal is the optional global table declaring an auxiliary
// route group.
const routesGlobal = "routes"

// Host owns one extension's Lua state and the contributions extracted
// from it. The state stays alive for the host's lifetime because
// capability handler closures call back into it.
type Host struct {
	id       string
	manifest *Manifest

	state  *lua.State
	bridge *lua.Bridge

	caps       []*capability.Descriptor
	routeGroup *registry.RouteGroup

	hostState State
	err       error
}

// NewHost creates an unloaded host for a discovered extension.
func NewHost(info *Info) (*Host, error) {
	if info == nil || info.Manifest == nil {
		return nil, ErrNilManifest
	}
	return &Host{
		id:        info.ID,
		manifest:  info.Manifest,
		hostState: StateUnloaded,
	}, nil
}

// ID returns the extension identifier.
func (h *Host) ID() string {
	return h.id
}

// Manifest returns the extension's static declaration.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// State returns the host lifecycle state.
func (h *Host) State() State {
	return h.hostState
}

// Err returns the load error, if any.
func (h *Host) Err() error {
	return h.err
}

// Capabilities returns the descriptors extracted at load time.
func (h *Host) Capabilities() []*capability.Descriptor {
	return h.caps
}

// RouteGroup returns the extension's auxiliary route group, or nil.
func (h *Host) RouteGroup() *registry.RouteGroup {
	return h.routeGroup
}

// Load executes the entry file in a fresh sandboxed state with the
// docnexus API injected, then extracts capabilities and routes.
// enabled mirrors the enablement store at load time so the extension
// can gate its own declared metadata.
func (h *Host) Load(ctx context.Context, reg *registry.Registry, enabled bool) error {
	if h.hostState == StateLoaded {
		return ErrAlreadyLoaded
	}

	s := lua.NewState()
	h.state = s
	h.bridge = lua.NewBridge(s.L)

	api := &lua.HostAPI{
		PluginID: h.id,
		Enabled:  enabled,
		RegisterSlot: func(slot, fragment string) {
			reg.RegisterSlot(h.id, slot, fragment)
		},
	}
	api.Install(s)

	if err := s.DoFile(h.manifest.EntryPath()); err != nil {
		s.Close()
		h.state = nil
		h.hostState = StateError
		h.err = fmt.Errorf("failed to load extension: %w", err)
		return h.err
	}

	h.caps = h.extractCapabilities()
	h.routeGroup = h.extractRouteGroup()

	h.hostState = StateLoaded
	h.err = nil
	return nil
}

// Close releases the Lua state. Handler closures held by descriptors
// return errors afterwards.
func (h *Host) Close() {
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
	h.bridge = nil
	h.caps = nil
	h.routeGroup = nil
	h.hostState = StateUnloaded
}

// extractCapabilities calls the entry file's capabilities() function
// and converts each returned table into a descriptor. A malformed
// entry is logged and skipped; it never aborts the rest.
func (h *Host) extractCapabilities() []*capability.Descriptor {
	if !h.state.HasFunction(capabilitiesFunc) {
		slog.Debug("extension declares no capabilities", "extension", h.id)
		return nil
	}

	results, err := h.state.Call(capabilitiesFunc)
	if err != nil {
		slog.Error("capabilities() failed", "extension", h.id, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}
	list, ok := results[0].(*glua.LTable)
	if !ok {
		slog.Error("capabilities() did not return a table", "extension", h.id)
		return nil
	}

	var caps []*capability.Descriptor
	list.ForEach(func(_, v glua.LValue) {
		tbl, ok := v.(*glua.LTable)
		if !ok {
			slog.Warn("capability entry is not a table", "extension", h.id)
			return
		}
		d, err := h.descriptorFromTable(tbl)
		if err != nil {
			slog.Error("skipping malformed capability", "extension", h.id, "error", err)
			return
		}
		caps = append(caps, d)
	})
	return caps
}

// descriptorFromTable builds a host-side descriptor from a Lua
// capability table.
func (h *Host) descriptorFromTable(tbl *glua.LTable) (*capability.Descriptor, error) {
	name, ok := h.bridge.TableString(tbl, "name")
	if !ok {
		return nil, capability.ErrMissingName
	}

	d := &capability.Descriptor{Name: name}

	kind, _ := h.bridge.TableString(tbl, "kind")
	switch kind {
	case lua.TokenExportHandler:
		d.Kind = capability.KindExportHandler
	case lua.TokenUIExtension:
		d.Kind = capability.KindUIExtension
	case lua.TokenAlgorithm, "":
		d.Kind = capability.KindAlgorithm
	default:
		return nil, fmt.Errorf("capability %s: unknown kind %q", name, kind)
	}

	lifecycle, _ := h.bridge.TableString(tbl, "lifecycle")
	switch lifecycle {
	case lua.TokenExperimental:
		d.Lifecycle = capability.LifecycleExperimental
	case lua.TokenStandard, "":
		d.Lifecycle = capability.LifecycleStandard
	default:
		return nil, fmt.Errorf("capability %s: unknown lifecycle %q", name, lifecycle)
	}

	d.Meta = map[string]any{}
	if meta, ok := h.bridge.TableTable(tbl, "meta"); ok {
		if m, ok := h.bridge.ToGoValue(meta).(map[string]any); ok {
			d.Meta = m
		}
	}
	// The owner is always the loading extension, whatever the table says.
	d.Meta[capability.MetaPluginID] = h.id
	if h.manifest.Preinstalled {
		d.Meta[capability.MetaPreinstalled] = true
	}

	switch d.Kind {
	case capability.KindAlgorithm:
		fn, ok := h.bridge.TableFunc(tbl, "transform")
		if !ok {
			return nil, fmt.Errorf("capability %s: %w", name, capability.ErrMissingTransform)
		}
		d.Transform = h.transformClosure(name, fn)
	case capability.KindExportHandler:
		fn, ok := h.bridge.TableFunc(tbl, "export")
		if !ok {
			return nil, fmt.Errorf("capability %s: %w", name, capability.ErrMissingExport)
		}
		d.Export = h.exportClosure(name, fn)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// transformClosure wraps a Lua transform function as a TransformFunc.
// Calls are serialized by the state's mutex.
func (h *Host) transformClosure(name string, fn *glua.LFunction) capability.TransformFunc {
	s := h.state
	return func(_ context.Context, content string) (string, error) {
		if s.IsClosed() {
			return "", fmt.Errorf("transform %s: %w", name, ErrNotLoaded)
		}
		results, err := s.CallFunction(fn, glua.LString(content))
		if err != nil {
			return "", fmt.Errorf("transform %s: %w", name, err)
		}
		if len(results) == 0 {
			return "", fmt.Errorf("transform %s: no return value", name)
		}
		out, ok := results[0].(glua.LString)
		if !ok {
			return "", fmt.Errorf("transform %s: returned %s, want string", name, results[0].Type())
		}
		return string(out), nil
	}
}

// exportClosure wraps a Lua export function as an ExportFunc.
func (h *Host) exportClosure(name string, fn *glua.LFunction) capability.ExportFunc {
	s := h.state
	return func(_ context.Context, htmlContent []byte) ([]byte, error) {
		if s.IsClosed() {
			return nil, fmt.Errorf("export %s: %w", name, ErrNotLoaded)
		}
		results, err := s.CallFunction(fn, glua.LString(htmlContent))
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("export %s: no return value", name)
		}
		out, ok := results[0].(glua.LString)
		if !ok {
			return nil, fmt.Errorf("export %s: returned %s, want string", name, results[0].Type())
		}
		return []byte(out), nil
	}
}

// extractRouteGroup reads the optional global routes table:
//
//	routes = {
//	  {method = "GET", path = "/status", handler = function(req) ... end},
//	}
//
// Handlers receive a table with path/query/body and return the response
// body, an optional status code, and an optional content type.
func (h *Host) extractRouteGroup() *registry.RouteGroup {
	v := h.state.GetGlobal(routesGlobal)
	list, ok := v.(*glua.LTable)
	if !ok {
		return nil
	}

	group := &registry.RouteGroup{Name: h.id}
	list.ForEach(func(_, entry glua.LValue) {
		tbl, ok := entry.(*glua.LTable)
		if !ok {
			return
		}
		method, _ := h.bridge.TableString(tbl, "method")
		if method == "" {
			method = http.MethodGet
		}
		path, ok := h.bridge.TableString(tbl, "path")
		if !ok {
			slog.Warn("route entry missing path", "extension", h.id)
			return
		}
		fn, ok := h.bridge.TableFunc(tbl, "handler")
		if !ok {
			slog.Warn("route entry missing handler", "extension", h.id, "path", path)
			return
		}
		group.Routes = append(group.Routes, registry.Route{
			Method:  method,
			Path:    path,
			Handler: h.routeHandler(path, fn),
		})
	})

	if len(group.Routes) == 0 {
		return nil
	}
	return group
}

// routeHandler adapts a Lua route function to http.HandlerFunc.
func (h *Host) routeHandler(path string, fn *glua.LFunction) http.HandlerFunc {
	s := h.state
	bridge := h.bridge
	id := h.id

	return func(w http.ResponseWriter, r *http.Request) {
		req := map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
		}

		// Build the request table and call under one critical section;
		// the bridge shares the state's LState.
		results, err := s.CallFunctionWith(fn, func(_ *glua.LState) []glua.LValue {
			return []glua.LValue{bridge.ToLuaValue(req)}
		})
		if err != nil {
			slog.Error("extension route failed", "extension", id, "path", path, "error", err)
			http.Error(w, "extension route failed", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		contentType := "text/html; charset=utf-8"
		body := ""
		if len(results) > 0 {
			body = results[0].String()
		}
		if len(results) > 1 {
			if n, ok := results[1].(glua.LNumber); ok {
				status = int(n)
			}
		}
		if len(results) > 2 {
			if ct, ok := results[2].(glua.LString); ok {
				contentType = string(ct)
			}
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
