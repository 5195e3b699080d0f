package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/docnexus/docnexus/internal/feature"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/state"
)

// Manager owns extension lifecycle: startup loading, install,
// uninstall, and hot reload. All mutating operations are serialized
// behind a single mutex so two concurrent reloads can never interleave
// registrations and corrupt the active set. Render requests never take
// this lock; they read the feature manager's atomic snapshot.
type Manager struct {
	mu sync.Mutex

	loader   *Loader
	registry *registry.Registry
	store    *state.Store
	features *feature.Manager

	hosts     map[string]*Host
	loadOrder []string

	builtins map[string]Builtin
}

// Builtin describes an installable capability that is compiled into
// the host rather than loaded from disk. It appears in the catalog and
// goes through the same enablement store as on-disk extensions, but
// install and uninstall only flip its store entry; there is no Lua
// state to reload.
type Builtin struct {
	ID          string
	Name        string
	Description string
	Category    string
	Icon        string
	Version     string

	// Preinstalled builtins are always active and cannot be
	// uninstalled.
	Preinstalled bool
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Paths are the extension search directories in precedence order.
	Paths []string

	// Registry receives extension contributions.
	Registry *registry.Registry

	// Store is the persisted enablement set.
	Store *state.Store

	// Features is reconciled after every mutating operation.
	Features *feature.Manager

	// Builtins are host-compiled installable capabilities surfaced in
	// the catalog alongside on-disk extensions.
	Builtins []Builtin
}

// NewManager creates an extension manager.
func NewManager(cfg ManagerConfig) *Manager {
	builtins := make(map[string]Builtin, len(cfg.Builtins))
	for _, b := range cfg.Builtins {
		builtins[b.ID] = b
	}
	return &Manager{
		loader:   NewLoader(WithPaths(cfg.Paths...)),
		registry: cfg.Registry,
		store:    cfg.Store,
		features: cfg.Features,
		hosts:    make(map[string]*Host),
		builtins: builtins,
	}
}

// Loader exposes the underlying loader for discovery queries.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// LoadAll discovers and loads every extension, then reconciles.
// A single malformed extension never prevents the host application
// from starting: its error is logged and loading continues.
func (m *Manager) LoadAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.loader.Discover() {
		if _, exists := m.hosts[info.ID]; exists {
			continue
		}
		if _, ok := m.builtins[info.ID]; ok {
			slog.Warn("on-disk extension shadowed by builtin", "extension", info.ID)
			continue
		}
		if err := m.loadLocked(ctx, info); err != nil {
			slog.Error("failed to load extension", "extension", info.ID, "error", err)
		}
	}

	m.features.Reconcile(nil)
}

// loadLocked executes one extension and registers its contributions.
// Caller holds m.mu.
func (m *Manager) loadLocked(ctx context.Context, info *Info) error {
	host, err := NewHost(info)
	if err != nil {
		return err
	}

	enabled := info.Manifest.Preinstalled || m.store.IsEnabled(info.ID)
	if err := host.Load(ctx, m.registry, enabled); err != nil {
		info.State = StateError
		info.Err = err
		return err
	}

	registered := 0
	for _, d := range host.Capabilities() {
		if err := m.registry.Register(d); err != nil {
			// One bad descriptor must not abort the others.
			slog.Error("failed to register capability",
				"extension", info.ID, "capability", d.Name, "error", err)
			continue
		}
		registered++
	}

	if g := host.RouteGroup(); g != nil {
		m.registry.RegisterRouteGroup(*g)
	}

	m.hosts[info.ID] = host
	m.loadOrder = append(m.loadOrder, info.ID)
	info.State = StateLoaded
	info.Err = nil

	slog.Info("loaded extension",
		"extension", info.ID, "capabilities", registered, "enabled", enabled)
	return nil
}

// Reload re-executes one extension under a fresh Lua state, replacing
// its prior contributions, then reconciles. This is the hot-reload
// path: a changed entry file or changed enablement state takes effect
// without restarting the process.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadLocked(ctx, id); err != nil {
		return err
	}
	m.features.Reconcile(nil)
	return nil
}

// reloadLocked does the reload without reconciling. Caller holds m.mu.
func (m *Manager) reloadLocked(ctx context.Context, id string) error {
	// Drop the old host and its registry entries first so an extension
	// that stopped declaring a capability does not leave stale state.
	if old, ok := m.hosts[id]; ok {
		old.Close()
		delete(m.hosts, id)
		m.removeFromLoadOrder(id)
		m.registry.RemoveByPlugin(id)
	}

	info, err := m.loader.Find(id)
	if err != nil {
		return err
	}

	// Re-inspect so on-disk manifest changes are picked up.
	info = m.loader.inspect(id, info.Path)
	m.loader.discovered[id] = info

	return m.loadLocked(ctx, info)
}

// Install enables an extension in the store, reloads it, and
// reconciles. The reload re-executes the entry file so the extension
// observes its new enablement state. Builtins skip the reload; their
// capabilities are already registered and reconcile activates them.
func (m *Manager) Install(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.builtins[id]; ok {
		if err := m.store.SetEnabled(id, true); err != nil {
			return fmt.Errorf("install %s: %w", id, err)
		}
		m.features.Reconcile(nil)
		slog.Info("installed builtin", "extension", id)
		return nil
	}

	// Resolve before touching the store so a failed install cannot
	// leave an enablement entry behind for a later reconcile to act on.
	if _, err := m.loader.Find(id); err != nil {
		return fmt.Errorf("install %s: %w", id, err)
	}
	if err := m.store.SetEnabled(id, true); err != nil {
		return fmt.Errorf("install %s: %w", id, err)
	}
	if err := m.reloadLocked(ctx, id); err != nil {
		if rbErr := m.store.SetEnabled(id, false); rbErr != nil {
			slog.Error("rolling back failed install", "extension", id, "error", rbErr)
		}
		m.features.Reconcile(nil)
		return fmt.Errorf("install %s: %w", id, err)
	}
	m.features.Reconcile(nil)
	slog.Info("installed extension", "extension", id)
	return nil
}

// Uninstall disables an extension. Preinstalled extensions are
// refused: their enablement cannot be revoked.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.builtins[id]; ok {
		if b.Preinstalled {
			return fmt.Errorf("uninstall %s: %w", id, ErrPreinstalled)
		}
		if err := m.store.SetEnabled(id, false); err != nil {
			return fmt.Errorf("uninstall %s: %w", id, err)
		}
		m.features.Reconcile(nil)
		slog.Info("uninstalled builtin", "extension", id)
		return nil
	}

	if info, err := m.loader.Find(id); err == nil && info.Manifest.Preinstalled {
		return fmt.Errorf("uninstall %s: %w", id, ErrPreinstalled)
	}

	if err := m.store.SetEnabled(id, false); err != nil {
		return fmt.Errorf("uninstall %s: %w", id, err)
	}
	if err := m.reloadLocked(ctx, id); err != nil {
		// The extension may have been removed from disk; disabling it
		// in the store is still effective.
		slog.Warn("reload after uninstall failed", "extension", id, "error", err)
	}
	m.features.Reconcile(nil)
	slog.Info("uninstalled extension", "extension", id)
	return nil
}

// Get returns a loaded host by identifier.
func (m *Manager) Get(id string) (*Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hosts[id]
	return h, ok
}

// Count returns the number of loaded extensions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hosts)
}

// CatalogEntry describes one discovered extension for the plugin
// catalog UI. Metadata comes from the statically parsed manifest, the
// installed flag from the enablement store, and the priority flag from
// the orchestrator.
type CatalogEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Icon         string   `json:"icon"`
	Version      string   `json:"version"`
	Tags         []string `json:"tags"`
	Installed    bool     `json:"installed"`
	CanInstall   bool     `json:"can_install"`
	Preinstalled bool     `json:"preinstalled"`
	IsPriority   bool     `json:"is_priority"`
	Loaded       bool     `json:"loaded"`
	Error        string   `json:"error,omitempty"`
}

// Catalog re-discovers extensions and returns catalog entries sorted
// by identifier.
func (m *Manager) Catalog() []CatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	priority := make(map[string]bool)
	for _, id := range m.features.Priority() {
		priority[id] = true
	}

	var entries []CatalogEntry
	for _, b := range m.builtins {
		entries = append(entries, CatalogEntry{
			ID:           b.ID,
			Name:         b.Name,
			Description:  b.Description,
			Category:     b.Category,
			Icon:         b.Icon,
			Version:      b.Version,
			Tags:         []string{b.Category},
			Installed:    b.Preinstalled || m.store.IsEnabled(b.ID),
			CanInstall:   !b.Preinstalled,
			Preinstalled: b.Preinstalled,
			IsPriority:   priority[b.ID],
			Loaded:       true,
		})
	}

	for _, info := range m.loader.Discover() {
		// Builtins shadow on-disk directories with the same identifier.
		if _, ok := m.builtins[info.ID]; ok {
			continue
		}
		manifest := info.Manifest

		installed := manifest.Preinstalled || m.store.IsEnabled(info.ID)
		entry := CatalogEntry{
			ID:           info.ID,
			Name:         manifest.Name,
			Description:  manifest.Description,
			Category:     manifest.Category,
			Icon:         manifest.Icon,
			Version:      manifest.Version,
			Tags:         []string{manifest.Category},
			Installed:    installed,
			CanInstall:   !manifest.Preinstalled,
			Preinstalled: manifest.Preinstalled,
			IsPriority:   priority[info.ID],
		}
		if host, ok := m.hosts[info.ID]; ok {
			entry.Loaded = host.State() == StateLoaded
			if host.Err() != nil {
				entry.Error = host.Err().Error()
			}
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Close releases every loaded extension in reverse load order.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.loadOrder) - 1; i >= 0; i-- {
		if host, ok := m.hosts[m.loadOrder[i]]; ok {
			host.Close()
		}
	}
	m.hosts = make(map[string]*Host)
	m.loadOrder = nil
}

// removeFromLoadOrder removes an identifier from the load order.
// Caller holds m.mu.
func (m *Manager) removeFromLoadOrder(id string) {
	for i, n := range m.loadOrder {
		if n == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}
