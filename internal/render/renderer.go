// Package render converts markdown to HTML. The baseline renderer is
// fixed; document-level transformations run earlier, in the feature
// pipeline, on the markdown source.
package render

import (
	"bytes"
	"context"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to an HTML fragment using goldmark.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with GFM extensions and syntax
// highlighting.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					// CSS classes instead of inline styles so the UI
					// stylesheet controls the theme.
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			// Heading IDs are required for TOC anchors.
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	return &Renderer{md: md}
}

// ToHTML converts markdown to an HTML fragment. Goldmark has no native
// context support, so cancellation uses the goroutine + select pattern.
func (r *Renderer) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(content), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.html, res.err
	}
}
