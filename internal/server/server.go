// Package server exposes the HTTP API: document rendering, export,
// the plugin catalog, and extension-contributed routes.
package server

import (
	"net/http"

	"github.com/docnexus/docnexus/internal/extension"
	"github.com/docnexus/docnexus/internal/feature"
	"github.com/docnexus/docnexus/internal/registry"
	"github.com/docnexus/docnexus/internal/render"
)

// Version is the application version reported by /api/version.
const Version = "1.0.0"

// Server routes HTTP requests to the runtime.
type Server struct {
	docsRoot     string
	experimental bool

	renderer   *render.Renderer
	features   *feature.Manager
	extensions *extension.Manager
	registry   *registry.Registry

	mux *http.ServeMux
}

// Config wires the server's dependencies.
type Config struct {
	DocsRoot     string
	Experimental bool

	Renderer   *render.Renderer
	Features   *feature.Manager
	Extensions *extension.Manager
	Registry   *registry.Registry
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		docsRoot:     cfg.DocsRoot,
		experimental: cfg.Experimental,
		renderer:     cfg.Renderer,
		features:     cfg.Features,
		extensions:   cfg.Extensions,
		registry:     cfg.Registry,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// routes attaches every handler.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/docs", s.handleListDocs)
	s.mux.HandleFunc("GET /api/docs/{path...}", s.handleRenderDoc)
	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("POST /api/export/{format}", s.handleExport)
	s.mux.HandleFunc("GET /api/plugins", s.handlePluginCatalog)
	s.mux.HandleFunc("POST /api/plugins/install/{id}", s.handleInstall)
	s.mux.HandleFunc("POST /api/plugins/uninstall/{id}", s.handleUninstall)
	s.mux.HandleFunc("GET /api/plugins/priority", s.handleGetPriority)
	s.mux.HandleFunc("POST /api/plugins/priority", s.handleSetPriority)
	s.mux.HandleFunc("GET /api/slots/{name}", s.handleSlots)
	s.mux.HandleFunc("/ext/", s.handleExtensionRoute)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return withRequestID(withLogging(s.mux))
}
