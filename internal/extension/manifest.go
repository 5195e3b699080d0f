package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ManifestFileName is the static declaration file beside an extension's
// entry point. It is parsed, never executed; the catalog UI reads it
// without running extension code.
const ManifestFileName = "plugin.json"

// EntryFileName is the Lua entry point the loader executes.
const EntryFileName = "plugin.lua"

// Manifest describes an extension's display metadata and flags.
type Manifest struct {
	// Name is the human-readable display name.
	Name string `json:"name"`

	// Description is a short catalog description.
	Description string `json:"description"`

	// Category groups extensions in the catalog ("export", "editor", ...).
	Category string `json:"category"`

	// Icon is a catalog icon token (e.g. "fa-file-pdf").
	Icon string `json:"icon"`

	// Preinstalled extensions are always enabled and cannot be
	// uninstalled by the user.
	Preinstalled bool `json:"preinstalled"`

	// Version is a semver string.
	Version string `json:"version"`

	// path is the extension directory.
	path string
}

// Manifest validation errors.
var (
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.path = filepath.Dir(path)
	m.applyDefaults(filepath.Base(m.path))

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewManifestMinimal creates a default manifest for an extension
// directory that ships no plugin.json.
func NewManifestMinimal(id, path string) *Manifest {
	m := &Manifest{path: path}
	m.applyDefaults(id)
	return m
}

// applyDefaults fills optional fields, deriving the display name from
// the directory name when absent.
func (m *Manifest) applyDefaults(id string) {
	if m.Name == "" {
		m.Name = id
	}
	if m.Description == "" {
		m.Description = "No description."
	}
	if m.Category == "" {
		m.Category = "tool"
	}
	if m.Icon == "" {
		m.Icon = "fa-plug"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is well formed.
func (m *Manifest) Validate() error {
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	return nil
}

// Path returns the extension directory.
func (m *Manifest) Path() string {
	return m.path
}

// EntryPath returns the full path to the Lua entry file.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.path, EntryFileName)
}

// String returns a display string for logs.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
