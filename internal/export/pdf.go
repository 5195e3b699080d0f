package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/docnexus/docnexus/internal/capability"
)

// PDFPluginID is the extension identifier the PDF handler is gated by.
// It is not preinstalled: the handler resolves only after the user
// installs it through the plugin catalog.
const PDFPluginID = "pdf_export"

// DefaultPDFTimeout bounds page load and print for one export.
const DefaultPDFTimeout = 30 * time.Second

// US Letter with half-inch margins.
const (
	paperWidthInches  = 8.5
	paperHeightInches = 11
	marginInches      = 0.5
)

// PDFExporter renders HTML to PDF in headless Chrome via go-rod. The
// browser is launched lazily on first use and reused afterwards.
type PDFExporter struct {
	mu      sync.Mutex
	browser *rod.Browser
	timeout time.Duration
}

// NewPDFExporter creates an exporter. No browser is started until the
// first export.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{timeout: DefaultPDFTimeout}
}

// ensureBrowser lazily connects to the browser. Caller holds e.mu.
// Rod downloads Chromium on first run if no browser is found.
func (e *PDFExporter) ensureBrowser() error {
	if e.browser != nil {
		return nil
	}

	l := launcher.New()

	// Pre-installed browser for containerized environments.
	if bin := os.Getenv("ROD_BROWSER_BIN"); bin != "" {
		l = l.Bin(bin)
	}
	if os.Getenv("CI") == "true" || os.Getenv("ROD_BROWSER_BIN") != "" {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	e.browser = browser
	return nil
}

// Export renders a standalone HTML document to PDF bytes.
func (e *PDFExporter) Export(ctx context.Context, htmlContent []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(htmlContent) == 0 {
		return nil, ErrEmptyContent
	}

	// Chrome needs a file URL; data URLs choke on large documents.
	tmp, err := os.CreateTemp("", "docnexus-export-*.html")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(WrapDocument(htmlContent)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}

	return e.renderFile(ctx, tmpPath)
}

// renderFile opens a local HTML file in the browser and prints it.
func (e *PDFExporter) renderFile(ctx context.Context, path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureBrowser(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}

	page, err := e.browser.Page(proto.TargetCreateTarget{URL: "file://" + abs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	defer page.Close()

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := page.PDF(e.pdfOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", ErrPDFGeneration, err)
	}
	return buf, nil
}

// pdfOptions builds the print settings.
func (e *PDFExporter) pdfOptions() *proto.PagePrintToPDF {
	return &proto.PagePrintToPDF{
		PaperWidth:      floatPtr(paperWidthInches),
		PaperHeight:     floatPtr(paperHeightInches),
		MarginTop:       floatPtr(marginInches),
		MarginBottom:    floatPtr(marginInches),
		MarginLeft:      floatPtr(marginInches),
		MarginRight:     floatPtr(marginInches),
		PrintBackground: true,
	}
}

// Close shuts down the browser if one was started.
func (e *PDFExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		err := e.browser.Close()
		e.browser = nil
		return err
	}
	return nil
}

// Capability exposes the exporter as an export handler. It declares
// itself installed; the orchestrator gates it by the enablement store
// since its owner is not preinstalled.
func (e *PDFExporter) Capability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:      "pdf_export",
		Kind:      capability.KindExportHandler,
		Lifecycle: capability.LifecycleExperimental,
		Export:    e.Export,
		Meta: map[string]any{
			capability.MetaPluginID:  PDFPluginID,
			capability.MetaInstalled: true,
			capability.MetaExtension: "pdf",
		},
	}
}

func floatPtr(f float64) *float64 {
	return &f
}
