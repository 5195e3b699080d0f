// Package export provides document export handlers. Each exporter is
// exposed to the runtime as an export handler capability; the
// orchestrator decides which handlers are resolvable based on
// enablement state.
package export

import (
	"context"
	"fmt"

	"github.com/docnexus/docnexus/internal/capability"
)

// documentTemplate wraps an HTML fragment in a complete standalone
// document for download.
const documentTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Document</title>
</head>
<body>
%s
</body>
</html>`

// WrapDocument wraps a rendered HTML fragment in a full HTML5 document.
func WrapDocument(fragment []byte) []byte {
	return []byte(fmt.Sprintf(documentTemplate, fragment))
}

// HTMLCapability returns the standalone-HTML export handler. It ships
// preinstalled; there is nothing to install for it.
func HTMLCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:      "html_export",
		Kind:      capability.KindExportHandler,
		Lifecycle: capability.LifecycleStandard,
		Export: func(ctx context.Context, htmlContent []byte) ([]byte, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if len(htmlContent) == 0 {
				return nil, ErrEmptyContent
			}
			return WrapDocument(htmlContent), nil
		},
		Meta: map[string]any{
			capability.MetaPluginID:     "html_export",
			capability.MetaPreinstalled: true,
			capability.MetaInstalled:    true,
			capability.MetaExtension:    "html",
		},
	}
}
