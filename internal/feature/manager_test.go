package feature

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/docnexus/docnexus/internal/capability"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/state"
)

func upperTransform(_ context.Context, content string) (string, error) {
	return strings.ToUpper(content), nil
}

func algo(name, pluginID string, meta map[string]any) *capability.Descriptor {
	m := map[string]any{capability.MetaPluginID: pluginID}
	for k, v := range meta {
		m[k] = v
	}
	return &capability.Descriptor{
		Name:      name,
		Kind:      capability.KindAlgorithm,
		Lifecycle: capability.LifecycleStandard,
		Transform: upperTransform,
		Meta:      m,
	}
}

func exporter(name, pluginID, ext string, installed bool) *capability.Descriptor {
	return &capability.Descriptor{
		Name:      name,
		Kind:      capability.KindExportHandler,
		Lifecycle: capability.LifecycleExperimental,
		Export: func(_ context.Context, b []byte) ([]byte, error) {
			return b, nil
		},
		Meta: map[string]any{
			capability.MetaPluginID:  pluginID,
			capability.MetaExtension: ext,
			capability.MetaInstalled: installed,
		},
	}
}

func openStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "installed_plugins.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestReconcileDeduplicatesByName(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	if err := st.SetEnabled("ext_a", true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetEnabled("ext_b", true); err != nil {
		t.Fatal(err)
	}

	mustRegister(t, reg, algo("first", "ext_a", nil))
	mustRegister(t, reg, algo("toc", "ext_a", nil))
	mustRegister(t, reg, algo("last", "ext_b", nil))
	// Re-registering the same name replaces in place.
	mustRegister(t, reg, algo("toc", "ext_b", nil))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	active := m.Active()
	names := make([]string, len(active))
	for i, d := range active {
		names[i] = d.Name
	}
	want := []string{"first", "toc", "last"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("active names = %v, want %v", names, want)
	}
	if got := active[1].PluginID(); got != "ext_b" {
		t.Errorf("toc owner = %q, want the re-registering extension", got)
	}
}

func TestReconcileForcesUninstalledWhenAbsentFromStore(t *testing.T) {
	reg := registry.New()
	st := openStore(t)

	// Declares itself installed, but its extension is not in the store.
	d := algo("orphan", "ghost_ext", map[string]any{capability.MetaInstalled: true})
	mustRegister(t, reg, d)

	m := NewManager(reg, st)
	m.Reconcile(nil)

	active := m.Active()
	if len(active) != 1 {
		t.Fatalf("active len = %d, want 1", len(active))
	}
	if active[0].Installed() {
		t.Error("capability absent from store should be forced not-installed")
	}
	// The registry's descriptor must not be mutated.
	if !d.Installed() {
		t.Error("source descriptor was mutated during reconcile")
	}
}

func TestReconcilePreinstalledNeverGated(t *testing.T) {
	reg := registry.New()
	st := openStore(t)

	mustRegister(t, reg, algo("builtin", "core", map[string]any{
		capability.MetaInstalled:    true,
		capability.MetaPreinstalled: true,
	}))
	mustRegister(t, reg, algo("hostside", "", map[string]any{
		capability.MetaInstalled: true,
	}))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	for _, d := range m.Active() {
		if !d.Installed() {
			t.Errorf("%s should stay installed without a store entry", d.Name)
		}
	}
}

func TestPriorityOrdersPrioritizedLast(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	for _, id := range []string{"ext_a", "ext_b", "ext_c"} {
		if err := st.SetEnabled(id, true); err != nil {
			t.Fatal(err)
		}
	}

	mustRegister(t, reg, algo("a1", "ext_a", nil))
	mustRegister(t, reg, algo("b1", "ext_b", nil))
	mustRegister(t, reg, algo("c1", "ext_c", nil))
	mustRegister(t, reg, algo("a2", "ext_a", nil))

	m := NewManager(reg, st)
	m.SetPriority([]string{"ext_c", "ext_a"})

	got := make([]string, 0, 4)
	for _, d := range m.Active() {
		got = append(got, d.Name)
	}
	// ext_b is unprioritized and stays first in original order, then
	// ext_c's entries, then ext_a's.
	want := []string{"b1", "c1", "a1", "a2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("priority order = %v, want %v", got, want)
	}

	if p := m.Priority(); !reflect.DeepEqual(p, []string{"ext_c", "ext_a"}) {
		t.Errorf("Priority() = %v", p)
	}
}

func TestReconcileSurvivesReloadCycle(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	for _, id := range []string{"ext_a", "ext_b"} {
		if err := st.SetEnabled(id, true); err != nil {
			t.Fatal(err)
		}
	}

	mustRegister(t, reg, algo("toc", "ext_a", nil))
	mustRegister(t, reg, algo("trail", "ext_b", nil))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	// Simulate a hot reload of ext_a: contributions removed, then
	// re-registered. The name keeps a single active entry throughout.
	reg.RemoveByPlugin("ext_a")
	m.Reconcile(nil)
	if got := len(m.Active()); got != 1 {
		t.Fatalf("active len after removal = %d, want 1", got)
	}

	mustRegister(t, reg, algo("toc", "ext_a", nil))
	m.Reconcile(nil)

	names := make([]string, 0, 2)
	for _, d := range m.Active() {
		names = append(names, d.Name)
	}
	want := []string{"trail", "toc"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("active after reload = %v, want %v", names, want)
	}
}

func TestBuildPipelineFilters(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	if err := st.SetEnabled("ext_a", true); err != nil {
		t.Fatal(err)
	}

	mustRegister(t, reg, algo("standard", "ext_a", nil))

	exp := algo("experimental", "ext_a", nil)
	exp.Lifecycle = capability.LifecycleExperimental
	mustRegister(t, reg, exp)

	off := algo("disabled", "ext_a", map[string]any{capability.MetaInstalled: false})
	mustRegister(t, reg, off)

	mustRegister(t, reg, exporter("pdf_export", "ext_a", "pdf", true))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	p := m.BuildPipeline(false)
	if got := p.Names(); !reflect.DeepEqual(got, []string{"standard"}) {
		t.Errorf("standard pipeline = %v", got)
	}

	p = m.BuildPipeline(true)
	if got := p.Names(); !reflect.DeepEqual(got, []string{"standard", "experimental"}) {
		t.Errorf("experimental pipeline = %v", got)
	}
}

func TestResolveExportHandler(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	if err := st.SetEnabled("pdf_export", true); err != nil {
		t.Fatal(err)
	}

	mustRegister(t, reg, exporter("pdf_export", "pdf_export", "pdf", true))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	if _, ok := m.ResolveExportHandler("pdf"); !ok {
		t.Error("expected pdf handler by extension match")
	}
	if _, ok := m.ResolveExportHandler("pdf_export"); !ok {
		t.Error("expected pdf handler by name match")
	}
	if _, ok := m.ResolveExportHandler("docx"); ok {
		t.Error("unexpected handler for unregistered format")
	}
}

func TestResolveExportHandlerFailsClosedWhenNotInstalled(t *testing.T) {
	reg := registry.New()
	st := openStore(t)

	// Not in the store: forced not-installed during reconcile.
	mustRegister(t, reg, exporter("pdf_export", "pdf_export", "pdf", true))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	if _, ok := m.ResolveExportHandler("pdf"); ok {
		t.Fatal("uninstalled handler must not resolve")
	}

	// Enabling and reconciling makes it resolvable without touching
	// the registry again.
	if err := st.SetEnabled("pdf_export", true); err != nil {
		t.Fatal(err)
	}
	m.Reconcile(nil)
	if _, ok := m.ResolveExportHandler("pdf"); !ok {
		t.Fatal("handler should resolve after enablement + reconcile")
	}
}

func TestResolveExportHandlerDisabledNotShadowed(t *testing.T) {
	reg := registry.New()
	st := openStore(t)
	if err := st.SetEnabled("ext_b", true); err != nil {
		t.Fatal(err)
	}

	// First match is gated off; a later installed handler for the same
	// format must not quietly take its place.
	mustRegister(t, reg, exporter("pdf_export", "pdf_export", "pdf", true))
	mustRegister(t, reg, exporter("pdf_alt", "ext_b", "pdf", true))

	m := NewManager(reg, st)
	m.Reconcile(nil)

	if _, ok := m.ResolveExportHandler("pdf"); ok {
		t.Fatal("disabled first match must fail resolution, not fall through")
	}

	// Once the first match is installed, resolution succeeds.
	if err := st.SetEnabled("pdf_export", true); err != nil {
		t.Fatal(err)
	}
	m.Reconcile(nil)
	if _, ok := m.ResolveExportHandler("pdf"); !ok {
		t.Fatal("installed first match should resolve")
	}
}

func TestHostBuiltinsActiveWithoutStoreEntry(t *testing.T) {
	reg := registry.New()
	st := openStore(t)

	mustRegister(t, reg, algo("good", "", nil))
	m := NewManager(reg, st, WithStepTimeout(time.Second))
	m.Reconcile(nil)

	if got := len(m.Active()); got != 1 {
		t.Fatalf("active len = %d, want 1", got)
	}
}

func mustRegister(t *testing.T, reg *registry.Registry, d *capability.Descriptor) {
	t.Helper()
	if err := reg.Register(d); err != nil {
		t.Fatalf("register %s: %v", d.Name, err)
	}
}
