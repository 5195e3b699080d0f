package extension

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Loader discovers extensions on the filesystem. A subdirectory of a
// search path is a candidate extension iff it contains plugin.lua.
type Loader struct {
	// Search paths in precedence order: user directories before
	// bundled directories, so user overrides are discovered first.
	paths []string

	// Discovered extensions by identifier.
	discovered map[string]*Info
}

// Info holds discovery information about one extension. It is
// re-created wholesale on every discovery pass; never patched in place.
type Info struct {
	// ID is derived from the extension's directory name.
	ID string

	// Path is the extension directory.
	Path string

	// Manifest is the statically parsed declaration block.
	Manifest *Manifest

	// Origin marks which search root produced the extension.
	Origin string

	State State
	Err   error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the extension search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a loader for the given search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPaths(),
		discovered: make(map[string]*Info),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPaths returns the default extension search paths: the user's
// config directory first, then a plugins directory beside the working
// directory.
func DefaultPaths() []string {
	paths := make([]string, 0, 2)

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "docnexus", "plugins"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}
	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover scans every search path and returns the discovered
// extensions sorted by identifier. Missing search directories are not
// errors; they contribute nothing.
func (l *Loader) Discover() []*Info {
	l.discovered = make(map[string]*Info)

	for _, base := range l.paths {
		l.discoverInPath(base)
	}

	infos := make([]*Info, 0, len(l.discovered))
	for _, info := range l.discovered {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// discoverInPath scans one search root. Earlier paths win identifier
// collisions.
func (l *Loader) discoverInPath(base string) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cannot read extension directory", "path", base, "error", err)
		}
		return
	}

	found := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, EntryFileName)); err != nil {
			continue
		}

		info := l.inspect(entry.Name(), dir)
		info.Origin = base
		if _, exists := l.discovered[info.ID]; !exists {
			l.discovered[info.ID] = info
			found++
		}
	}
	slog.Debug("scanned extension directory", "path", base, "found", found)
}

// inspect builds the Info record for one extension directory.
func (l *Loader) inspect(id, dir string) *Info {
	info := &Info{
		ID:    id,
		Path:  dir,
		State: StateUnloaded,
	}

	manifestPath := filepath.Join(dir, ManifestFileName)
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			// A bad manifest degrades to defaults rather than
			// excluding the extension from the catalog.
			slog.Warn("invalid extension manifest", "extension", id, "error", err)
			info.Manifest = NewManifestMinimal(id, dir)
			return info
		}
		info.Manifest = manifest
		return info
	}

	info.Manifest = NewManifestMinimal(id, dir)
	return info
}

// Get returns the discovered info for an identifier.
func (l *Loader) Get(id string) (*Info, bool) {
	info, ok := l.discovered[id]
	return info, ok
}

// Find locates an extension by identifier, re-scanning the search
// paths if it is not already in the discovery cache.
func (l *Loader) Find(id string) (*Info, error) {
	if info, ok := l.discovered[id]; ok {
		return info, nil
	}

	dirExists := false
	for _, base := range l.paths {
		dir := filepath.Join(base, id)
		if _, err := os.Stat(filepath.Join(dir, EntryFileName)); err == nil {
			info := l.inspect(id, dir)
			info.Origin = base
			l.discovered[id] = info
			return info, nil
		}
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			dirExists = true
		}
	}
	// A directory that exists but carries no entry file gets the more
	// specific error so the caller can tell the cases apart.
	if dirExists {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Count returns the number of discovered extensions.
func (l *Loader) Count() int {
	return len(l.discovered)
}
