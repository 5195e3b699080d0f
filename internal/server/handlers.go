package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/docnexus/docnexus/internal/ctxlog"
	"github.com/docnexus/docnexus/internal/extension"
)

// maxRequestBody bounds request bodies for render and export calls.
const maxRequestBody = 20 << 20

// docExtensions are the file types listed and rendered as documents.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// handleListDocs lists renderable documents under the docs root.
func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	var docs []string
	err := filepath.WalkDir(s.docsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.docsRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if docExtensions[strings.ToLower(filepath.Ext(path))] {
			rel, err := filepath.Rel(s.docsRoot, path)
			if err != nil {
				return err
			}
			docs = append(docs, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("doc listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	sort.Strings(docs)
	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

// handleRenderDoc renders one document from the docs root.
func (s *Server) handleRenderDoc(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")

	path, err := s.resolveDocPath(rel)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	html, err := s.renderContent(r, string(content))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": rel, "html": html})
}

// resolveDocPath confines a request path to the docs root.
func (s *Server) resolveDocPath(rel string) (string, error) {
	root, err := filepath.Abs(s.docsRoot)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes docs root: %s", rel)
	}
	if !docExtensions[strings.ToLower(filepath.Ext(path))] {
		return "", fmt.Errorf("not a document: %s", rel)
	}
	return path, nil
}

// handleRender renders markdown provided in the request body:
//
//	{"content": "# Title", "experimental": true}
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	content := gjson.GetBytes(body, "content")
	if !content.Exists() {
		writeError(w, http.StatusBadRequest, "missing content field")
		return
	}

	experimental := s.experimental
	if v := gjson.GetBytes(body, "experimental"); v.Exists() {
		experimental = v.Bool()
	}

	html, err := s.render(r, content.String(), experimental)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": html})
}

// renderContent renders with the server's default experimental setting.
func (s *Server) renderContent(r *http.Request, content string) (string, error) {
	return s.render(r, content, s.experimental)
}

// render runs the pipeline over the markdown, then the baseline
// renderer. The pipeline is rebuilt per request from the active set.
func (s *Server) render(r *http.Request, content string, experimental bool) (string, error) {
	pipeline := s.features.BuildPipeline(experimental)
	processed := pipeline.Run(r.Context(), content)

	html, err := s.renderer.ToHTML(r.Context(), processed)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("baseline render failed", "error", err)
		return "", err
	}
	return html, nil
}

// handleExport renders the posted markdown and passes the HTML to the
// export handler for the requested format. A format without a
// resolvable handler returns 404 with a MISSING_PLUGIN code so the UI
// can offer installation.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	content := gjson.GetBytes(body, "content")
	if !content.Exists() {
		writeError(w, http.StatusBadRequest, "missing content field")
		return
	}

	export, ok := s.features.ResolveExportHandler(format)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":       "Export plugin not installed",
			"code":        "MISSING_PLUGIN",
			"plugin_name": "docnexus-plugin-" + format,
			"message":     fmt.Sprintf("The %s export plugin is not installed.", strings.ToUpper(format)),
		})
		return
	}

	html, err := s.render(r, content.String(), s.experimental)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}

	out, err := export(r.Context(), []byte(html))
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("export failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=document.%s", format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handlePluginCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": s.extensions.Catalog()})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.extensions.Install(r.Context(), id); err != nil {
		if errors.Is(err, extension.ErrNotFound) || errors.Is(err, extension.ErrNoEntryPoint) {
			writeError(w, http.StatusNotFound, "unknown plugin: "+id)
			return
		}
		ctxlog.FromContext(r.Context()).Error("install failed", "plugin", id, "error", err)
		writeError(w, http.StatusInternalServerError, "install failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"installed": id})
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.extensions.Uninstall(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, extension.ErrPreinstalled):
			writeError(w, http.StatusForbidden, "plugin is preinstalled: "+id)
		case errors.Is(err, extension.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown plugin: "+id)
		default:
			ctxlog.FromContext(r.Context()).Error("uninstall failed", "plugin", id, "error", err)
			writeError(w, http.StatusInternalServerError, "uninstall failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uninstalled": id})
}

func (s *Server) handleGetPriority(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"priority": s.features.Priority()})
}

// handleSetPriority replaces the priority order:
//
//	{"priority": ["pdf_export", "toc"]}
func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	list := gjson.GetBytes(body, "priority")
	if !list.IsArray() {
		writeError(w, http.StatusBadRequest, "priority must be an array")
		return
	}

	var order []string
	for _, v := range list.Array() {
		order = append(order, v.String())
	}
	s.features.SetPriority(order)
	writeJSON(w, http.StatusOK, map[string]any{"priority": order})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":      name,
		"fragments": s.registry.Slots(name),
	})
}

// handleExtensionRoute dispatches /ext/<group>/<rest> to the matching
// extension route. Groups are resolved per request so hot reloads take
// effect immediately.
func (s *Server) handleExtensionRoute(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/ext/")
	group, rest, _ := strings.Cut(trimmed, "/")
	if group == "" {
		http.NotFound(w, r)
		return
	}
	rest = "/" + rest

	for _, g := range s.registry.RouteGroups() {
		if g.Name != group {
			continue
		}
		for _, route := range g.Routes {
			if route.Path == rest && (route.Method == "" || route.Method == r.Method) {
				route.Handler(w, r)
				return
			}
		}
	}
	http.NotFound(w, r)
}
