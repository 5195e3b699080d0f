// Package registry provides process-wide storage for loaded capabilities,
// UI slot fragments, and auxiliary route groups. It holds no lifecycle
// logic beyond de-duplication; reconciliation lives in the feature package.
package registry

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/docnexus/docnexus/internal/capability"
)

// Route is a single HTTP route contributed by an extension.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// RouteGroup is an ordered set of routes contributed by one extension.
// The group name is the owning extension's identifier; the server
// dispatches /ext/<name>/ requests against the current group.
type RouteGroup struct {
	Name   string
	Routes []Route
}

// slotEntry is one UI fragment with its contributing extension.
type slotEntry struct {
	owner    string
	fragment string
}

// Registry is the shared store of everything extensions contribute.
// It is explicitly constructed and passed to the loader, the feature
// manager, and request handlers; there is no package-level singleton.
//
// Registration happens on the serialized startup/reload path. Reads may
// happen concurrently with registration at any time and return whatever
// is present without blocking.
type Registry struct {
	mu sync.RWMutex

	// Registration order is pipeline order for capabilities.
	capabilities []*capability.Descriptor

	// Slot name -> fragments in registration order.
	slots map[string][]slotEntry

	// Route groups in registration order, deduped by name.
	routeGroups []RouteGroup
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		slots: make(map[string][]slotEntry),
	}
}

// Register adds a capability descriptor. A descriptor whose name is
// already registered replaces the prior entry at its original position,
// so reloading an extension updates its pipeline slot instead of
// appending a stale duplicate.
func (r *Registry) Register(d *capability.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.capabilities {
		if existing.Name == d.Name {
			slog.Warn("capability already registered, overwriting",
				"name", d.Name, "plugin", d.PluginID())
			r.capabilities[i] = d
			return nil
		}
	}

	r.capabilities = append(r.capabilities, d)
	slog.Debug("registered capability",
		"name", d.Name, "kind", d.Kind.String(), "plugin", d.PluginID())
	return nil
}

// Capabilities returns a snapshot of everything registered so far.
func (r *Registry) Capabilities() []*capability.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*capability.Descriptor, len(r.capabilities))
	copy(out, r.capabilities)
	return out
}

// RemoveByPlugin drops every contribution owned by the given
// extension: capabilities, slot fragments, and its route group. Used
// before a hot reload so nothing stale survives the old Lua state.
func (r *Registry) RemoveByPlugin(pluginID string) int {
	if pluginID == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.capabilities[:0]
	removed := 0
	for _, d := range r.capabilities {
		if d.PluginID() == pluginID {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	r.capabilities = kept

	for slot, entries := range r.slots {
		filtered := entries[:0]
		for _, e := range entries {
			if e.owner != pluginID {
				filtered = append(filtered, e)
			}
		}
		r.slots[slot] = filtered
	}

	groups := r.routeGroups[:0]
	for _, g := range r.routeGroups {
		if g.Name != pluginID {
			groups = append(groups, g)
		}
	}
	r.routeGroups = groups

	return removed
}

// RegisterSlot appends a content fragment to the named UI slot on
// behalf of the owning extension.
func (r *Registry) RegisterSlot(owner, slot, fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot] = append(r.slots[slot], slotEntry{owner: owner, fragment: fragment})
}

// Slots returns the accumulated fragments for a slot, or an empty
// slice if none were registered.
func (r *Registry) Slots(slot string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.slots[slot]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.fragment)
	}
	return out
}

// RegisterRouteGroup adds an auxiliary route group, deduplicated by
// group name. Returns false if a group with that name already exists.
func (r *Registry) RegisterRouteGroup(g RouteGroup) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routeGroups {
		if existing.Name == g.Name {
			slog.Warn("route group already registered", "name", g.Name)
			return false
		}
	}
	r.routeGroups = append(r.routeGroups, g)
	return true
}

// RouteGroups returns a snapshot of all registered route groups.
func (r *Registry) RouteGroups() []RouteGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteGroup, len(r.routeGroups))
	copy(out, r.routeGroups)
	return out
}

// Reset clears all registered state. Test use only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities = nil
	r.slots = make(map[string][]slotEntry)
	r.routeGroups = nil
}
