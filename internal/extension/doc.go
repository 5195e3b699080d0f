// Package extension provides the Lua extension system for docnexus.
//
// Extensions are Lua scripts that can:
//   - Contribute transform algorithms to the rendering pipeline
//   - Register export handlers for download formats (PDF, etc.)
//   - Add UI fragments to named slots (sidebar, toolbar)
//   - Expose auxiliary HTTP routes under /ext/<id>/
//
// # Quick Start
//
// The Manager ties discovery, loading, and enablement together:
//
//	reg := registry.New()
//	store, _ := state.Open(statePath)
//	features := feature.NewManager(reg, store)
//
//	mgr := extension.NewManager(extension.ManagerConfig{
//	    Paths:    extension.DefaultPaths(),
//	    Registry: reg,
//	    Store:    store,
//	    Features: features,
//	})
//	mgr.LoadAll(ctx)
//	defer mgr.Close()
//
// # Extension Structure
//
// An extension is a directory containing a Lua entry point and an
// optional manifest:
//
//	~/.config/docnexus/plugins/pdf_export/
//	├── plugin.json      # Static metadata (optional)
//	└── plugin.lua       # Entry point
//
// The manifest is parsed, never executed, so the plugin catalog can
// display extensions without running their code. A directory without
// plugin.lua is not an extension.
//
// # Entry Point
//
// The entry file runs once per load inside a sandboxed state with the
// docnexus host API injected. It declares capabilities by defining a
// global capabilities() function:
//
//	function capabilities()
//	  return {
//	    {
//	      name = "pdf_export",
//	      kind = docnexus.EXPORT_HANDLER,
//	      lifecycle = docnexus.EXPERIMENTAL,
//	      meta = { installed = docnexus.enabled, extension = "pdf" },
//	      export = function(html) ... end,
//	    },
//	  }
//	end
//
// The docnexus table is the only channel between extension and host.
// Its registration callbacks are bound to the host's own registry, so
// an extension can never end up talking to a private copy of the
// runtime state.
//
// # Loading and Isolation
//
// Each extension gets its own Lua state. A failure in one extension
// (syntax error, runtime error during the entry file, malformed
// capability table) is logged and contained; other extensions and the
// host keep running. Capability handlers that misbehave at render time
// are contained by the pipeline, not here.
//
// # Hot Reload
//
// Install, Uninstall, and Reload replace the extension's state and
// registry contributions wholesale, then reconcile the active set.
// These operations are serialized; render requests are not blocked by
// them because they read an atomic snapshot.
package extension
