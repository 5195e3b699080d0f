package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/net/html"

	"github.com/docnexus/docnexus/internal/capability"
)

// WordPluginID identifies the built-in Word exporter in the plugin
// catalog. It ships preinstalled.
const WordPluginID = "word_export"

// maxExportHTMLSize bounds the HTML accepted for a single docx export.
const maxExportHTMLSize = 50 << 20

// WordCapability returns the Word (.docx) export handler.
func WordCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:      "docx_export",
		Kind:      capability.KindExportHandler,
		Lifecycle: capability.LifecycleStandard,
		Export:    ExportDocx,
		Meta: map[string]any{
			capability.MetaPluginID:     WordPluginID,
			capability.MetaPreinstalled: true,
			capability.MetaInstalled:    true,
			capability.MetaExtension:    "docx",
		},
	}
}

// ExportDocx converts rendered HTML to a Word document. The output is
// a minimal WordprocessingML package: headings become styled
// paragraphs with bookmarks, in-document anchor links become internal
// hyperlinks, code blocks keep a monospace style, and tables keep a
// shaded header row.
func ExportDocx(ctx context.Context, htmlContent []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(htmlContent) == 0 {
		return nil, ErrEmptyContent
	}
	if len(htmlContent) > maxExportHTMLSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrContentTooLarge, len(htmlContent))
	}

	blocks := parseBlocks(htmlContent)
	doc := buildDocumentXML(blocks)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name, body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxPackageRels},
		{"word/_rels/document.xml.rels", docxDocumentRels},
		{"word/styles.xml", docxStyles},
		{"word/document.xml", doc},
	}
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDocxGeneration, err)
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDocxGeneration, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocxGeneration, err)
	}
	return buf.Bytes(), nil
}

type docxBlockKind int

const (
	blockParagraph docxBlockKind = iota
	blockHeading
	blockBullet
	blockCode
	blockTable
)

// docxRun is a span of text with uniform formatting.
type docxRun struct {
	text   string
	code   bool
	anchor string
}

type docxBlock struct {
	kind  docxBlockKind
	level int
	id    string
	runs  []docxRun
	// Table rows; the first row is treated as the header.
	rows [][]string
}

// parseBlocks flattens an HTML fragment into a sequence of blocks.
// script, style, and nav subtrees are dropped; images degrade to their
// alt text in brackets.
func parseBlocks(content []byte) []docxBlock {
	tz := html.NewTokenizer(bytes.NewReader(content))

	var (
		blocks  []docxBlock
		current *docxBlock
		inCode  bool
		anchor  string

		inTable bool
		rows    [][]string
		cell    *strings.Builder
	)

	flush := func() {
		if current != nil && len(current.runs) > 0 {
			blocks = append(blocks, *current)
		}
		current = nil
	}
	appendText := func(text string) {
		if cell != nil {
			cell.WriteString(text)
			return
		}
		if current == nil {
			current = &docxBlock{kind: blockParagraph}
		}
		current.runs = append(current.runs, docxRun{text: text, code: inCode, anchor: anchor})
	}

	for {
		tt := tz.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := tz.Token()

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			switch tok.Data {
			case "script", "style", "nav":
				if tt == html.StartTagToken {
					skipSubtree(tz, tok.Data)
				}
			case "h1", "h2", "h3", "h4", "h5", "h6":
				flush()
				current = &docxBlock{kind: blockHeading, level: int(tok.Data[1] - '0'), id: attr(tok, "id")}
			case "p":
				flush()
				current = &docxBlock{kind: blockParagraph}
			case "li":
				flush()
				current = &docxBlock{kind: blockBullet}
			case "pre":
				flush()
				current = &docxBlock{kind: blockCode}
				inCode = true
			case "code":
				inCode = true
			case "a":
				if href := attr(tok, "href"); strings.HasPrefix(href, "#") {
					anchor = strings.TrimPrefix(href, "#")
				}
			case "img":
				if alt := attr(tok, "alt"); alt != "" {
					appendText("[" + alt + "]")
				} else {
					appendText("[Image]")
				}
			case "br":
				appendText("\n")
			case "table":
				flush()
				inTable = true
				rows = nil
			case "tr":
				if inTable {
					rows = append(rows, nil)
				}
			case "td", "th":
				if inTable {
					cell = &strings.Builder{}
				}
			}

		case html.EndTagToken:
			switch tok.Data {
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li":
				flush()
			case "pre":
				flush()
				inCode = false
			case "code":
				inCode = false
			case "a":
				anchor = ""
			case "td", "th":
				if cell != nil && len(rows) > 0 {
					rows[len(rows)-1] = append(rows[len(rows)-1], strings.TrimSpace(cell.String()))
				}
				cell = nil
			case "table":
				if len(rows) > 0 {
					blocks = append(blocks, docxBlock{kind: blockTable, rows: rows})
				}
				inTable = false
				rows = nil
			}

		case html.TextToken:
			text := tok.Data
			if current == nil && cell == nil && strings.TrimSpace(text) == "" {
				continue
			}
			appendText(text)
		}
	}

	flush()
	return blocks
}

// skipSubtree consumes tokens until the matching end tag, counting
// same-name nesting.
func skipSubtree(tz *html.Tokenizer, name string) {
	depth := 1
	for depth > 0 {
		switch tz.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken:
			if n, _ := tz.TagName(); string(n) == name {
				depth++
			}
		case html.EndTagToken:
			if n, _ := tz.TagName(); string(n) == name {
				depth--
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// buildDocumentXML serializes blocks as the main document part.
func buildDocumentXML(blocks []docxBlock) string {
	var b strings.Builder
	b.WriteString(docxDocumentHeader)
	for _, blk := range blocks {
		writeBlock(&b, blk)
	}
	b.WriteString(docxDocumentFooter)
	return b.String()
}

func writeBlock(b *strings.Builder, blk docxBlock) {
	if blk.kind == blockTable {
		writeTable(b, blk.rows)
		return
	}

	b.WriteString("<w:p>")
	switch blk.kind {
	case blockHeading:
		level := blk.level
		if level > 3 {
			level = 3
		}
		fmt.Fprintf(b, `<w:pPr><w:pStyle w:val="Heading%d"/></w:pPr>`, level)
	case blockCode:
		b.WriteString(`<w:pPr><w:pStyle w:val="Code"/></w:pPr>`)
	}

	// Headings carry a bookmark named after the rendered anchor so
	// internal TOC links land on them.
	bookmark := blk.kind == blockHeading && blk.id != ""
	if bookmark {
		fmt.Fprintf(b, `<w:bookmarkStart w:id="%d" w:name="%s"/>`,
			bookmarkID(blk.id), xmlEscape(blk.id))
	}

	if blk.kind == blockBullet {
		b.WriteString(`<w:r><w:t xml:space="preserve">` + "• " + `</w:t></w:r>`)
	}
	for _, run := range blk.runs {
		writeRun(b, run)
	}

	if bookmark {
		fmt.Fprintf(b, `<w:bookmarkEnd w:id="%d"/>`, bookmarkID(blk.id))
	}
	b.WriteString("</w:p>")
}

func writeRun(b *strings.Builder, run docxRun) {
	if run.anchor != "" {
		fmt.Fprintf(b, `<w:hyperlink w:anchor="%s" w:history="1">`, xmlEscape(run.anchor))
	}
	for i, line := range strings.Split(run.text, "\n") {
		if i > 0 {
			b.WriteString("<w:r><w:br/></w:r>")
		}
		if line == "" {
			continue
		}
		b.WriteString("<w:r>")
		if run.code || run.anchor != "" {
			b.WriteString("<w:rPr>")
			if run.code {
				b.WriteString(`<w:rFonts w:ascii="Courier New" w:hAnsi="Courier New"/>`)
			}
			if run.anchor != "" {
				b.WriteString(`<w:color w:val="6366F1"/><w:u w:val="single"/>`)
			}
			b.WriteString("</w:rPr>")
		}
		fmt.Fprintf(b, `<w:t xml:space="preserve">%s</w:t></w:r>`, xmlEscape(line))
	}
	if run.anchor != "" {
		b.WriteString("</w:hyperlink>")
	}
}

// writeTable emits a bordered table with the first row shaded as the
// header.
func writeTable(b *strings.Builder, rows [][]string) {
	b.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/>` +
		`<w:tblBorders>` +
		`<w:top w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`<w:left w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`<w:bottom w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`<w:right w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`<w:insideH w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`<w:insideV w:val="single" w:sz="4" w:color="E5E7EB"/>` +
		`</w:tblBorders></w:tblPr>`)
	for i, row := range rows {
		b.WriteString("<w:tr>")
		for _, cellText := range row {
			b.WriteString("<w:tc>")
			if i == 0 {
				b.WriteString(`<w:tcPr><w:shd w:val="clear" w:fill="6366F1"/></w:tcPr>`)
			}
			b.WriteString("<w:p><w:r>")
			if i == 0 {
				b.WriteString(`<w:rPr><w:b/><w:color w:val="FFFFFF"/></w:rPr>`)
			}
			fmt.Fprintf(b, `<w:t xml:space="preserve">%s</w:t></w:r></w:p></w:tc>`, xmlEscape(cellText))
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
}

// bookmarkID derives a stable numeric id for a bookmark name.
func bookmarkID(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32() % 10000
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/><Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/></Types>`

const docxPackageRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

const docxDocumentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/></Relationships>`

const docxStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:pPr><w:spacing w:before="240" w:after="120"/></w:pPr><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style><w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:pPr><w:spacing w:before="200" w:after="100"/></w:pPr><w:rPr><w:b/><w:sz w:val="28"/></w:rPr></w:style><w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:pPr><w:spacing w:before="160" w:after="80"/></w:pPr><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style><w:style w:type="paragraph" w:styleId="Code"><w:name w:val="Code"/><w:rPr><w:rFonts w:ascii="Courier New" w:hAnsi="Courier New"/><w:sz w:val="18"/></w:rPr></w:style></w:styles>`

const docxDocumentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const docxDocumentFooter = `<w:sectPr><w:pgSz w:w="12240" w:h="15840"/><w:pgMar w:top="720" w:right="720" w:bottom="720" w:left="720"/></w:sectPr></w:body></w:document>`
