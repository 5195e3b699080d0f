// Package feature reconciles the registry's raw capability list with
// enablement and priority state into the active, ordered set that
// governs rendering.
package feature

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docnexus/docnexus/internal/capability"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/state"
)

// Manager is the orchestrator. Reconciliation builds a new active set
// locally and swaps it in atomically, so concurrent pipeline builds
// always see either the fully-old or the fully-new set.
type Manager struct {
	registry *registry.Registry
	store    *state.Store

	// mu serializes Reconcile and priority updates.
	mu       sync.Mutex
	priority []string

	// active holds the reconciled capability set.
	active atomic.Pointer[[]*capability.Descriptor]

	stepTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithStepTimeout sets the per-step execution deadline for pipelines
// built by this manager.
func WithStepTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.stepTimeout = d
	}
}

// NewManager creates an orchestrator over the given registry and
// enablement store.
func NewManager(reg *registry.Registry, store *state.Store, opts ...Option) *Manager {
	m := &Manager{
		registry:    reg,
		store:       store,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	empty := make([]*capability.Descriptor, 0)
	m.active.Store(&empty)
	return m
}

// SetPriority records a new priority order and reconciles with it.
// Later-listed extensions win same-name conflicts because their
// capabilities are processed last.
func (m *Manager) SetPriority(order []string) {
	m.mu.Lock()
	m.priority = append([]string(nil), order...)
	m.mu.Unlock()
	m.Reconcile(nil)
}

// Priority returns the current priority order.
func (m *Manager) Priority() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.priority...)
}

// Reconcile recomputes the active capability set from the registry.
// If priority is non-nil it replaces the stored order first. The result
// wholesale-replaces the previous active set.
//
// A malformed capability never aborts reconciliation; it is logged and
// skipped.
func (m *Manager) Reconcile(priority []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if priority != nil {
		m.priority = append([]string(nil), priority...)
	}

	raw := m.registry.Capabilities()
	sorted := sortByPriority(raw, m.priority)

	next := make([]*capability.Descriptor, 0, len(sorted))
	index := make(map[string]int, len(sorted))

	for _, d := range sorted {
		if err := d.Validate(); err != nil {
			slog.Error("skipping malformed capability during reconcile", "error", err)
			continue
		}

		effective := d
		if forced, changed := m.effectiveInstalled(d); changed {
			effective = d.WithInstalled(forced)
		}

		// Same-named capabilities replace in place: a reload updates
		// the existing pipeline position instead of appending a
		// duplicate with stale metadata.
		if pos, seen := index[effective.Name]; seen {
			next[pos] = effective
			continue
		}
		index[effective.Name] = len(next)
		next = append(next, effective)
	}

	m.active.Store(&next)
	slog.Debug("reconciled active capability set", "count", len(next))
}

// effectiveInstalled computes the capability's effective installed
// flag. A capability owned by a non-preinstalled extension absent from
// the enablement store is forced to not-installed; otherwise the
// declared flag stands. Capabilities without an owning extension are
// host built-ins and are never gated.
func (m *Manager) effectiveInstalled(d *capability.Descriptor) (installed, changed bool) {
	id := d.PluginID()
	if id == "" || d.Preinstalled() {
		return d.Installed(), false
	}
	if m.store != nil && !m.store.IsEnabled(id) {
		if d.Installed() {
			return false, true
		}
	}
	return d.Installed(), false
}

// sortByPriority stable-sorts capabilities so that entries owned by
// prioritized extensions move to the end, grouped in the order given.
// Unprioritized entries keep their original relative order and are
// processed first.
func sortByPriority(caps []*capability.Descriptor, priority []string) []*capability.Descriptor {
	if len(priority) == 0 {
		return caps
	}

	rank := make(map[string]int, len(priority))
	for i, id := range priority {
		rank[id] = i
	}

	out := make([]*capability.Descriptor, 0, len(caps))
	for _, d := range caps {
		if _, ok := rank[d.PluginID()]; !ok {
			out = append(out, d)
		}
	}
	for _, id := range priority {
		for _, d := range caps {
			if d.PluginID() == id {
				out = append(out, d)
			}
		}
	}
	return out
}

// Active returns a snapshot of the reconciled active set.
func (m *Manager) Active() []*capability.Descriptor {
	return *m.active.Load()
}

// BuildPipeline compiles a fresh pipeline from the active set:
// algorithm capabilities only, effective installed only, standard
// lifecycle always, experimental only when requested. Active-set order
// is preserved.
func (m *Manager) BuildPipeline(includeExperimental bool) *Pipeline {
	active := *m.active.Load()

	p := &Pipeline{stepTimeout: m.stepTimeout}
	for _, d := range active {
		if d.Kind != capability.KindAlgorithm {
			continue
		}
		if !d.Installed() {
			continue
		}
		if d.Lifecycle == capability.LifecycleExperimental && !includeExperimental {
			continue
		}
		p.steps = append(p.steps, Step{Name: d.Name, Transform: d.Transform})
	}
	return p
}

// ResolveExportHandler finds the active export handler for a format
// token, matching the meta extension first and falling back to name
// equality against the token or token+"_export".
//
// If the first match is not installed, resolution fails immediately: a
// disabled handler must not be silently shadowed by a later
// coincidentally-matching entry.
func (m *Manager) ResolveExportHandler(format string) (capability.ExportFunc, bool) {
	active := *m.active.Load()

	for _, d := range active {
		if d.Kind != capability.KindExportHandler {
			continue
		}
		if d.FormatExtension() != format &&
			d.Name != format && d.Name != format+"_export" {
			continue
		}
		if !d.Installed() {
			slog.Debug("export handler matched but not installed",
				"format", format, "name", d.Name)
			return nil, false
		}
		return d.Export, true
	}
	return nil, false
}
