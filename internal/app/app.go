// Package app wires the runtime together and manages its lifecycle:
// registry, enablement store, extension loading, core capabilities,
// and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docnexus/docnexus/internal/config"
	"github.com/docnexus/docnexus/internal/export"
	"github.com/docnexus/docnexus/internal/extension"
	"github.com/docnexus/docnexus/internal/feature"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/render"
	"github.com/docnexus/docnexus/internal/server"
	"github.com/docnexus/docnexus/internal/state"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Application owns every runtime component.
type Application struct {
	cfg *config.Config

	registry   *registry.Registry
	store      *state.Store
	features   *feature.Manager
	extensions *extension.Manager
	pdf        *export.PDFExporter
	server     *server.Server

	httpServer *http.Server
}

// New builds the application from configuration. Extension loading
// happens here; a broken extension is logged and skipped, never fatal.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	setupLogging(cfg)

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = defaultStatePath()
	}
	store, err := state.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("app: open enablement store: %w", err)
	}

	reg := registry.New()
	features := feature.NewManager(reg, store)

	// Built-in capabilities register before extensions, so core
	// transforms run first in the pipeline.
	for _, d := range render.CoreCapabilities() {
		if err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("app: register core capability: %w", err)
		}
	}
	if err := reg.Register(export.HTMLCapability()); err != nil {
		return nil, fmt.Errorf("app: register html export: %w", err)
	}

	pdf := export.NewPDFExporter()
	if err := reg.Register(pdf.Capability()); err != nil {
		return nil, fmt.Errorf("app: register pdf export: %w", err)
	}
	if err := reg.Register(export.WordCapability()); err != nil {
		return nil, fmt.Errorf("app: register word export: %w", err)
	}

	paths := cfg.PluginPaths
	if len(paths) == 0 {
		paths = extension.DefaultPaths()
	}
	extensions := extension.NewManager(extension.ManagerConfig{
		Paths:    paths,
		Registry: reg,
		Store:    store,
		Features: features,
		// Host-compiled exporters that the catalog offers alongside
		// on-disk extensions.
		Builtins: []extension.Builtin{
			{
				ID:          export.PDFPluginID,
				Name:        "PDF Export",
				Description: "Converts documentation to professional PDF format with Table of Contents, cover page, and optimized print layout.",
				Category:    "export",
				Icon:        "fa-file-pdf",
				Version:     "1.0.0",
			},
			{
				ID:           export.WordPluginID,
				Name:         "Word Export",
				Description:  "Exports documentation to Microsoft Word (.docx) with TOC and styles.",
				Category:     "export",
				Icon:         "fa-file-word",
				Version:      "1.0.0",
				Preinstalled: true,
			},
		},
	})
	extensions.LoadAll(ctx)

	features.SetPriority(cfg.PluginPriority)

	srv := server.New(server.Config{
		DocsRoot:     cfg.DocsRoot,
		Experimental: cfg.Experimental,
		Renderer:     render.NewRenderer(),
		Features:     features,
		Extensions:   extensions,
		Registry:     reg,
	})

	return &Application{
		cfg:        cfg,
		registry:   reg,
		store:      store,
		features:   features,
		extensions: extensions,
		pdf:        pdf,
		server:     srv,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (a *Application) Run(ctx context.Context) error {
	a.httpServer = &http.Server{
		Addr:    a.cfg.Addr,
		Handler: a.server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", a.cfg.Addr, "docs_root", a.cfg.DocsRoot)
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.httpServer.Shutdown(shutdownCtx)
		a.closeComponents()
		return err
	case err := <-errCh:
		a.closeComponents()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Extensions exposes the extension manager, mainly for tests.
func (a *Application) Extensions() *extension.Manager {
	return a.extensions
}

// closeComponents releases extensions and the browser.
func (a *Application) closeComponents() {
	a.extensions.Close()
	if err := a.pdf.Close(); err != nil {
		slog.Warn("closing pdf exporter", "error", err)
	}
}

// setupLogging installs the default structured logger.
func setupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	slog.SetDefault(slog.New(handler))
}

// defaultStatePath places the enablement store beside the config file.
func defaultStatePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "docnexus", state.DefaultFileName)
	}
	return state.DefaultFileName
}
