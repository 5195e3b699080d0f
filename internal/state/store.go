// Package state persists which optional extensions the user has enabled.
// The set survives process restarts; install and uninstall are the only
// mutations and are always followed by a reload and reconcile upstream.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultFileName is the on-disk name of the enablement file.
const DefaultFileName = "installed_plugins.json"

// enabledKey is the JSON path holding the enabled identifier list.
const enabledKey = "installed_plugins"

// ErrEmptyID is returned when an empty extension identifier is given.
var ErrEmptyID = errors.New("state: extension id is empty")

// Store is the durable enablement set. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string

	// In-memory mirror of the on-disk set.
	enabled map[string]bool
}

// Open loads (or initializes) a store backed by the given file.
// A missing file is not an error; it yields an empty set.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		enabled: make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		// A corrupt state file must not prevent startup; start empty
		// and overwrite on the next mutation.
		slog.Warn("enablement file is not valid JSON, starting empty", "path", path)
		return s, nil
	}

	for _, id := range gjson.GetBytes(data, enabledKey).Array() {
		if v := id.String(); v != "" {
			s.enabled[v] = true
		}
	}
	return s, nil
}

// IsEnabled reports whether the identifier is in the enabled set.
func (s *Store) IsEnabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[id]
}

// EnabledIDs returns the enabled identifiers, sorted.
func (s *Store) EnabledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.enabled))
	for id := range s.enabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetEnabled adds or removes an identifier and persists the set.
func (s *Store) SetEnabled(id string, enabled bool) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled {
		s.enabled[id] = true
	} else {
		delete(s.enabled, id)
	}

	return s.save()
}

// save writes the current set atomically. Caller holds s.mu.
func (s *Store) save() error {
	ids := make([]string, 0, len(s.enabled))
	for id := range s.enabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := sjson.SetBytes([]byte("{}"), enabledKey, ids)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: mkdir: %w", err)
	}

	// Write-then-rename so a crash mid-write cannot corrupt the set.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
