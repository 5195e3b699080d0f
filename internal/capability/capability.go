// Package capability defines the unit of registrable functionality
// contributed by the core application or by extensions.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies what role a capability plays in the system.
type Kind int

// Capability kinds.
const (
	// KindAlgorithm - a text-to-text pipeline step.
	KindAlgorithm Kind = iota

	// KindExportHandler - converts rendered HTML to exported bytes,
	// keyed by a target format extension ("pdf", "html", ...).
	KindExportHandler

	// KindUIExtension - no executable pipeline role; contributes
	// content fragments to named UI slots.
	KindUIExtension
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAlgorithm:
		return "algorithm"
	case KindExportHandler:
		return "export_handler"
	case KindUIExtension:
		return "ui_extension"
	default:
		return "unknown"
	}
}

// Lifecycle controls when a capability participates in rendering.
type Lifecycle int

// Capability lifecycles.
const (
	// LifecycleStandard - always runs.
	LifecycleStandard Lifecycle = iota

	// LifecycleExperimental - runs only when explicitly requested
	// for a given render.
	LifecycleExperimental
)

// String returns a string representation of the lifecycle.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleStandard:
		return "standard"
	case LifecycleExperimental:
		return "experimental"
	default:
		return "unknown"
	}
}

// TransformFunc is the handler signature for algorithm capabilities.
type TransformFunc func(ctx context.Context, content string) (string, error)

// ExportFunc is the handler signature for export handler capabilities.
type ExportFunc func(ctx context.Context, html []byte) ([]byte, error)

// Well-known metadata keys.
const (
	// MetaInstalled marks whether the capability is currently usable.
	// Defaults to true when absent.
	MetaInstalled = "installed"

	// MetaExtension holds the target format extension for export handlers.
	MetaExtension = "extension"

	// MetaPluginID names the extension that contributed the capability.
	MetaPluginID = "plugin_id"

	// MetaPreinstalled marks a capability whose owning extension cannot
	// be disabled by the user.
	MetaPreinstalled = "preinstalled"
)

// Validation errors.
var (
	ErrMissingName      = errors.New("capability: name is required")
	ErrMissingTransform = errors.New("capability: algorithm requires a transform handler")
	ErrMissingExport    = errors.New("capability: export handler requires an export handler")
	ErrHandlerMismatch  = errors.New("capability: handler does not match kind")
)

// Descriptor is the unit of registrable functionality. It is a tagged
// variant: exactly the handler matching Kind may be set. Descriptors are
// treated as immutable once registered; reconfiguration produces copies.
type Descriptor struct {
	// Name is the unique-per-pipeline identifier.
	Name string

	// Kind selects which handler field is meaningful.
	Kind Kind

	// Lifecycle controls experimental gating.
	Lifecycle Lifecycle

	// Transform is set iff Kind == KindAlgorithm.
	Transform TransformFunc

	// Export is set iff Kind == KindExportHandler.
	Export ExportFunc

	// Meta is an open key/value map. See the Meta* constants.
	Meta map[string]any
}

// Validate checks that the descriptor is well formed.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return ErrMissingName
	}

	switch d.Kind {
	case KindAlgorithm:
		if d.Transform == nil {
			return fmt.Errorf("%w: %s", ErrMissingTransform, d.Name)
		}
		if d.Export != nil {
			return fmt.Errorf("%w: %s has export handler", ErrHandlerMismatch, d.Name)
		}
	case KindExportHandler:
		if d.Export == nil {
			return fmt.Errorf("%w: %s", ErrMissingExport, d.Name)
		}
		if d.Transform != nil {
			return fmt.Errorf("%w: %s has transform handler", ErrHandlerMismatch, d.Name)
		}
	case KindUIExtension:
		// No executable role.
	default:
		return fmt.Errorf("capability: %s has unknown kind %d", d.Name, d.Kind)
	}

	return nil
}

// PluginID returns the owning extension identifier, or "" for built-ins
// registered without one.
func (d *Descriptor) PluginID() string {
	if d.Meta == nil {
		return ""
	}
	if id, ok := d.Meta[MetaPluginID].(string); ok {
		return id
	}
	return ""
}

// Installed reports the capability's declared installed flag.
// Absent means installed.
func (d *Descriptor) Installed() bool {
	if d.Meta == nil {
		return true
	}
	v, ok := d.Meta[MetaInstalled]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// Preinstalled reports whether the capability's owning extension is
// exempt from enablement gating.
func (d *Descriptor) Preinstalled() bool {
	if d.Meta == nil {
		return false
	}
	b, ok := d.Meta[MetaPreinstalled].(bool)
	return ok && b
}

// FormatExtension returns the target format for export handlers, or "".
func (d *Descriptor) FormatExtension() string {
	if d.Meta == nil {
		return ""
	}
	if ext, ok := d.Meta[MetaExtension].(string); ok {
		return ext
	}
	return ""
}

// WithInstalled returns a copy of the descriptor with the effective
// installed flag set. The original is not modified.
func (d *Descriptor) WithInstalled(installed bool) *Descriptor {
	clone := *d
	clone.Meta = make(map[string]any, len(d.Meta)+1)
	for k, v := range d.Meta {
		clone.Meta[k] = v
	}
	clone.Meta[MetaInstalled] = installed
	return &clone
}

// String returns a short identity string for logging.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.Name, d.Kind, d.Lifecycle)
}
