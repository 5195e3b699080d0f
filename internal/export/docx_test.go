package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docnexus/docnexus/internal/capability"
)

// docxPart extracts one file from a generated docx package.
func docxPart(t *testing.T, pkg []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(pkg), int64(len(pkg)))
	if err != nil {
		t.Fatalf("not a zip: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(data)
	}
	t.Fatalf("part %s missing from package", name)
	return ""
}

func TestWordCapabilityShape(t *testing.T) {
	d := WordCapability()
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.Kind != capability.KindExportHandler {
		t.Errorf("kind = %v", d.Kind)
	}
	if d.FormatExtension() != "docx" {
		t.Errorf("extension = %q", d.FormatExtension())
	}
	if d.PluginID() != WordPluginID {
		t.Errorf("owner = %q", d.PluginID())
	}
	if !d.Preinstalled() || !d.Installed() {
		t.Error("word export should ship preinstalled")
	}
}

func TestExportDocxPackageLayout(t *testing.T) {
	out, err := ExportDocx(context.Background(), []byte(`<h1 id="title">Title</h1><p>Body text.</p>`))
	if err != nil {
		t.Fatalf("ExportDocx: %v", err)
	}

	types := docxPart(t, out, "[Content_Types].xml")
	if !strings.Contains(types, "wordprocessingml.document.main") {
		t.Error("content types missing main document override")
	}

	doc := docxPart(t, out, "word/document.xml")
	if !strings.Contains(doc, `<w:pStyle w:val="Heading1"/>`) {
		t.Error("heading style missing")
	}
	if !strings.Contains(doc, `w:name="title"`) {
		t.Error("heading bookmark missing")
	}
	if !strings.Contains(doc, ">Body text.</w:t>") {
		t.Errorf("paragraph text missing: %s", doc)
	}
}

func TestExportDocxInternalLinks(t *testing.T) {
	in := `<p><a href="#setup">See setup</a></p><h2 id="setup">Setup</h2>`
	out, err := ExportDocx(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("ExportDocx: %v", err)
	}

	doc := docxPart(t, out, "word/document.xml")
	if !strings.Contains(doc, `<w:hyperlink w:anchor="setup" w:history="1">`) {
		t.Error("anchor link not converted to internal hyperlink")
	}
	if !strings.Contains(doc, `<w:bookmarkStart`) || !strings.Contains(doc, `w:name="setup"`) {
		t.Error("target bookmark missing")
	}
}

func TestExportDocxTableAndCode(t *testing.T) {
	in := `<table><tr><th>Name</th><th>Value</th></tr><tr><td>a</td><td>1</td></tr></table>` +
		`<pre><code>x := 1</code></pre>`
	out, err := ExportDocx(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("ExportDocx: %v", err)
	}

	doc := docxPart(t, out, "word/document.xml")
	if !strings.Contains(doc, "<w:tbl>") {
		t.Fatal("table missing")
	}
	if !strings.Contains(doc, `<w:shd w:val="clear" w:fill="6366F1"/>`) {
		t.Error("header row not shaded")
	}
	if !strings.Contains(doc, ">Name</w:t>") || !strings.Contains(doc, ">1</w:t>") {
		t.Error("cell text missing")
	}
	if !strings.Contains(doc, `<w:pStyle w:val="Code"/>`) {
		t.Error("code block style missing")
	}
	if !strings.Contains(doc, ">x := 1</w:t>") {
		t.Error("code text missing")
	}
}

func TestExportDocxSkipsScriptsAndEscapes(t *testing.T) {
	in := `<script>alert(1)</script><p>a &lt; b &amp; "c"</p>` +
		`<img src="x.png" alt="Diagram">`
	out, err := ExportDocx(context.Background(), []byte(in))
	if err != nil {
		t.Fatalf("ExportDocx: %v", err)
	}

	doc := docxPart(t, out, "word/document.xml")
	if strings.Contains(doc, "alert(1)") {
		t.Error("script content leaked into document")
	}
	if !strings.Contains(doc, "a &lt; b &amp; &quot;c&quot;") {
		t.Errorf("text not escaped: %s", doc)
	}
	// Images degrade to their alt text.
	if !strings.Contains(doc, "[Diagram]") {
		t.Error("image alt fallback missing")
	}
}

func TestExportDocxEmptyContent(t *testing.T) {
	if _, err := ExportDocx(context.Background(), nil); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestExportDocxContentTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("a"), maxExportHTMLSize+1)
	if _, err := ExportDocx(context.Background(), big); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("err = %v, want ErrContentTooLarge", err)
	}
}
