package extension

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/docnexus/docnexus/internal/capability"
	"github.com/docnexus/docnexus/internal/feature"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/state"
)

func newTestManager(t *testing.T, root string) (*Manager, *feature.Manager, *state.Store) {
	t.Helper()
	reg := registry.New()
	st, err := state.Open(filepath.Join(t.TempDir(), state.DefaultFileName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	features := feature.NewManager(reg, st)
	m := NewManager(ManagerConfig{
		Paths:    []string{root},
		Registry: reg,
		Store:    st,
		Features: features,
	})
	t.Cleanup(m.Close)
	return m, features, st
}

func TestLoadAllIsolatesBrokenExtension(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "healthy", shoutPluginLua, "")
	writeExtension(t, root, "broken", "this is not lua (", "")

	m, features, st := newTestManager(t, root)
	if err := st.SetEnabled("healthy", true); err != nil {
		t.Fatal(err)
	}

	m.LoadAll(context.Background())

	if m.Count() != 1 {
		t.Fatalf("loaded = %d, want only the healthy extension", m.Count())
	}
	if _, ok := m.Get("healthy"); !ok {
		t.Error("healthy extension not loaded")
	}
	if _, ok := m.Get("broken"); ok {
		t.Error("broken extension should not be registered as loaded")
	}

	// The healthy extension's capability made it into the active set.
	p := features.BuildPipeline(false)
	if got := p.Names(); len(got) != 1 || got[0] != "shout" {
		t.Errorf("pipeline = %v", got)
	}
}

func TestInstallFlowMakesExportResolvable(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "pdf_export", pdfPluginLua, "")

	m, features, _ := newTestManager(t, root)
	m.LoadAll(context.Background())

	// Not yet installed: loaded, declared not-installed, unresolvable.
	if m.Count() != 1 {
		t.Fatalf("loaded = %d", m.Count())
	}
	if _, ok := features.ResolveExportHandler("pdf"); ok {
		t.Fatal("pdf handler resolvable before install")
	}

	if err := m.Install(context.Background(), "pdf_export"); err != nil {
		t.Fatalf("Install: %v", err)
	}

	export, ok := features.ResolveExportHandler("pdf")
	if !ok {
		t.Fatal("pdf handler unresolvable after install")
	}
	out, err := export(context.Background(), []byte("<p>doc</p>"))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out) == 0 {
		t.Error("empty export output")
	}
}

func TestUninstallFlowRemovesExport(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "pdf_export", pdfPluginLua, "")

	m, features, st := newTestManager(t, root)
	if err := st.SetEnabled("pdf_export", true); err != nil {
		t.Fatal(err)
	}
	m.LoadAll(context.Background())

	if _, ok := features.ResolveExportHandler("pdf"); !ok {
		t.Fatal("pdf handler should resolve while installed")
	}

	if err := m.Uninstall(context.Background(), "pdf_export"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, ok := features.ResolveExportHandler("pdf"); ok {
		t.Fatal("pdf handler still resolvable after uninstall")
	}
	if st.IsEnabled("pdf_export") {
		t.Error("store still marks extension enabled")
	}
	// The extension stays loaded; only its effective state changed.
	if _, ok := m.Get("pdf_export"); !ok {
		t.Error("extension should remain loaded after uninstall")
	}
}

func TestUninstallPreinstalledRefused(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "shout", shoutPluginLua,
		`{"preinstalled": true, "version": "1.0.0"}`)

	m, features, _ := newTestManager(t, root)
	m.LoadAll(context.Background())

	err := m.Uninstall(context.Background(), "shout")
	if !errors.Is(err, ErrPreinstalled) {
		t.Fatalf("err = %v, want ErrPreinstalled", err)
	}

	// Still active.
	p := features.BuildPipeline(false)
	if got := p.Names(); len(got) != 1 {
		t.Errorf("pipeline = %v", got)
	}
}

func TestReloadPicksUpChangedEntryFile(t *testing.T) {
	root := t.TempDir()
	dir := writeExtension(t, root, "shout", shoutPluginLua, "")

	m, features, st := newTestManager(t, root)
	if err := st.SetEnabled("shout", true); err != nil {
		t.Fatal(err)
	}
	m.LoadAll(context.Background())

	before := features.BuildPipeline(false)
	out := before.Run(context.Background(), "abc")
	if out != "ABC" {
		t.Fatalf("before reload: %q", out)
	}

	// Rewrite the entry file with different behavior.
	reversed := `
function capabilities()
  return {
    {
      name = "shout",
      transform = function(content)
        return string.reverse(content)
      end,
    },
  }
end
`
	if err := os.WriteFile(filepath.Join(dir, EntryFileName), []byte(reversed), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Reload(context.Background(), "shout"); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	after := features.BuildPipeline(false)
	if got := after.Run(context.Background(), "abc"); got != "cba" {
		t.Errorf("after reload: %q", got)
	}
	if after.Len() != 1 {
		t.Errorf("pipeline steps = %d, want no duplicates", after.Len())
	}
}

func TestReloadUnknownExtension(t *testing.T) {
	m, _, _ := newTestManager(t, t.TempDir())
	m.LoadAll(context.Background())

	if err := m.Reload(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCatalog(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "pdf_export", pdfPluginLua,
		`{"name": "PDF Export", "category": "export", "version": "1.0.0"}`)
	writeExtension(t, root, "shout", shoutPluginLua,
		`{"preinstalled": true, "version": "1.0.0"}`)
	writeExtension(t, root, "broken", "this is not lua (", "")

	m, features, _ := newTestManager(t, root)
	m.LoadAll(context.Background())
	features.Reconcile([]string{"pdf_export"})

	entries := m.Catalog()
	if len(entries) != 3 {
		t.Fatalf("catalog = %d entries", len(entries))
	}

	byID := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	pdf := byID["pdf_export"]
	if pdf.Name != "PDF Export" || pdf.Category != "export" {
		t.Errorf("pdf entry = %+v", pdf)
	}
	if pdf.Installed || !pdf.CanInstall || !pdf.IsPriority {
		t.Errorf("pdf flags = %+v", pdf)
	}

	shout := byID["shout"]
	if !shout.Installed || shout.CanInstall || !shout.Preinstalled {
		t.Errorf("shout flags = %+v", shout)
	}
	if !shout.Loaded {
		t.Error("shout should be loaded")
	}

	if byID["broken"].Loaded {
		t.Error("broken extension reported as loaded")
	}
}

// gatedExporter is a host-registered export handler owned by a
// non-preinstalled plugin id, mirroring the built-in exporters the
// application registers before extension loading.
func gatedExporter(name, pluginID, ext string) *capability.Descriptor {
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
			capability.MetaInstalled: true,
		},
	}
}

func TestInstallUnknownLeavesStoreUntouched(t *testing.T) {
	reg := registry.New()
	st, err := state.Open(filepath.Join(t.TempDir(), state.DefaultFileName))
	if err != nil {
		t.Fatal(err)
	}
	features := feature.NewManager(reg, st)
	if err := reg.Register(gatedExporter("pdf_export", "pdf_export", "pdf")); err != nil {
		t.Fatal(err)
	}

	m := NewManager(ManagerConfig{
		Paths:    []string{t.TempDir()},
		Registry: reg,
		Store:    st,
		Features: features,
	})
	t.Cleanup(m.Close)
	m.LoadAll(context.Background())

	if err := m.Install(context.Background(), "pdf_export"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if st.IsEnabled("pdf_export") {
		t.Fatal("failed install left an enablement entry behind")
	}

	// An unrelated reconcile must not activate the handler.
	features.Reconcile(nil)
	if _, ok := features.ResolveExportHandler("pdf"); ok {
		t.Fatal("handler resolvable after failed install")
	}
}

func TestBuiltinInstallFlow(t *testing.T) {
	reg := registry.New()
	st, err := state.Open(filepath.Join(t.TempDir(), state.DefaultFileName))
	if err != nil {
		t.Fatal(err)
	}
	features := feature.NewManager(reg, st)
	if err := reg.Register(gatedExporter("pdf_export", "pdf_export", "pdf")); err != nil {
		t.Fatal(err)
	}

	m := NewManager(ManagerConfig{
		Paths:    []string{t.TempDir()},
		Registry: reg,
		Store:    st,
		Features: features,
		Builtins: []Builtin{
			{ID: "pdf_export", Name: "PDF Export", Category: "export", Version: "1.0.0"},
		},
	})
	t.Cleanup(m.Close)
	m.LoadAll(context.Background())

	// Offered by the catalog without any on-disk directory.
	entries := m.Catalog()
	if len(entries) != 1 {
		t.Fatalf("catalog = %d entries", len(entries))
	}
	e := entries[0]
	if e.ID != "pdf_export" || !e.CanInstall || e.Installed || !e.Loaded {
		t.Fatalf("builtin entry = %+v", e)
	}

	if _, ok := features.ResolveExportHandler("pdf"); ok {
		t.Fatal("handler resolvable before install")
	}

	if err := m.Install(context.Background(), "pdf_export"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, ok := features.ResolveExportHandler("pdf"); !ok {
		t.Fatal("handler not resolvable after install")
	}
	if e := m.Catalog()[0]; !e.Installed {
		t.Errorf("catalog entry after install = %+v", e)
	}

	if err := m.Uninstall(context.Background(), "pdf_export"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, ok := features.ResolveExportHandler("pdf"); ok {
		t.Fatal("handler still resolvable after uninstall")
	}
}

func TestBuiltinPreinstalledUninstallRefused(t *testing.T) {
	reg := registry.New()
	st, err := state.Open(filepath.Join(t.TempDir(), state.DefaultFileName))
	if err != nil {
		t.Fatal(err)
	}
	features := feature.NewManager(reg, st)

	m := NewManager(ManagerConfig{
		Paths:    []string{t.TempDir()},
		Registry: reg,
		Store:    st,
		Features: features,
		Builtins: []Builtin{
			{ID: "word_export", Name: "Word Export", Preinstalled: true},
		},
	})
	t.Cleanup(m.Close)

	if err := m.Uninstall(context.Background(), "word_export"); !errors.Is(err, ErrPreinstalled) {
		t.Fatalf("err = %v, want ErrPreinstalled", err)
	}
}
