package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/docnexus/docnexus/internal/capability"
)

// CorePluginID owns the built-in capabilities. It never appears in the
// enablement store; core capabilities are preinstalled and cannot be
// uninstalled.
const CorePluginID = "core"

// CoreCapabilities returns the built-in pipeline transforms. Standard
// entries always run; experimental entries run only when the render
// request opts in.
func CoreCapabilities() []*capability.Descriptor {
	std := func(name string, fn func(string) string) *capability.Descriptor {
		return &capability.Descriptor{
			Name:      name,
			Kind:      capability.KindAlgorithm,
			Lifecycle: capability.LifecycleStandard,
			Transform: wrap(fn),
			Meta: map[string]any{
				capability.MetaPluginID:     CorePluginID,
				capability.MetaPreinstalled: true,
				capability.MetaInstalled:    true,
			},
		}
	}

	experimental := std("smart_arrows", SmartArrows)
	experimental.Lifecycle = capability.LifecycleExperimental

	return []*capability.Descriptor{
		std("std_normalize", NormalizeHeadings),
		std("std_sanitize_attr", SanitizeAttrTokens),
		std("std_alerts", ConvertAlerts),
		std("std_toc", BuildTOC),
		experimental,
	}
}

// wrap lifts a pure string transform into a TransformFunc.
func wrap(fn func(string) string) capability.TransformFunc {
	return func(_ context.Context, content string) (string, error) {
		return fn(content), nil
	}
}

var (
	headingPattern   = regexp.MustCompile(`^(#{1,6})([^#\s].*)$`)
	overdeepPattern  = regexp.MustCompile(`^#{7,}\s*`)
	attrTokenPattern = regexp.MustCompile(`\s*\{[:#][^}]*\}\s*$`)
	alertPattern     = regexp.MustCompile(`(?i)^>\s*\[!(NOTE|TIP|IMPORTANT|WARNING|CAUTION)\]\s*(.*)$`)
	tocPattern       = regexp.MustCompile(`(?im)^\[TOC\]$`)
	tocHeadingRe     = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	slugStripRe      = regexp.MustCompile(`[^a-z0-9 -]`)
)

// NormalizeHeadings repairs common heading typos in markdown source:
// a missing space after the hash run, and heading levels deeper than
// six, which markdown would otherwise render as literal text.
func NormalizeHeadings(content string) string {
	lines := strings.Split(content, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + " " + strings.TrimSpace(m[2])
			continue
		}
		if overdeepPattern.MatchString(line) {
			lines[i] = "###### " + overdeepPattern.ReplaceAllString(line, "")
		}
	}
	return strings.Join(lines, "\n")
}

// SanitizeAttrTokens strips trailing attribute-list tokens such as
// {: .class} and {#custom-id} from heading lines. The baseline
// renderer does not support attribute lists, so left in place they
// leak into the rendered heading text.
func SanitizeAttrTokens(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			lines[i] = attrTokenPattern.ReplaceAllString(line, "")
		}
	}
	return strings.Join(lines, "\n")
}

// ConvertAlerts rewrites GitHub-style alert blockquotes
//
//	> [!NOTE]
//	> Body text.
//
// into ordinary blockquotes with a bold label, which the baseline
// renderer handles without an admonition extension.
func ConvertAlerts(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		m := alertPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
		rewritten := "> **" + label + ":**"
		if rest := strings.TrimSpace(m[2]); rest != "" {
			rewritten += " " + rest
		}
		lines[i] = rewritten
	}
	return strings.Join(lines, "\n")
}

// BuildTOC replaces a standalone [TOC] marker with a nested list of
// links to the document's headings. Anchor slugs match the renderer's
// auto-generated heading IDs.
func BuildTOC(content string) string {
	if !tocPattern.MatchString(content) {
		return content
	}

	type entry struct {
		level int
		title string
		slug  string
	}
	var entries []entry
	seen := map[string]int{}

	inFence := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := tocHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := m[2]
		slug := Slugify(title)
		// Duplicate headings get numbered suffixes, matching the
		// renderer's ID collision handling.
		if n, dup := seen[slug]; dup {
			seen[slug] = n + 1
			slug = fmt.Sprintf("%s-%d", slug, n)
		} else {
			seen[slug] = 1
		}
		entries = append(entries, entry{level: len(m[1]), title: title, slug: slug})
	}

	var toc strings.Builder
	for _, e := range entries {
		toc.WriteString(strings.Repeat("    ", e.level-1))
		toc.WriteString("- [")
		toc.WriteString(e.title)
		toc.WriteString("](#")
		toc.WriteString(e.slug)
		toc.WriteString(")\n")
	}

	// ReplaceAllString would expand $ in heading titles as capture
	// references; substitute the literal text instead.
	rendered := strings.TrimRight(toc.String(), "\n")
	return tocPattern.ReplaceAllStringFunc(content, func(string) string {
		return rendered
	})
}

// Slugify converts a heading title to its anchor ID: lowercase,
// spaces to hyphens, punctuation removed.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStripRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), "-")
	return s
}

var arrowReplacer = strings.NewReplacer(
	"<-->", "↔",
	"-->", "→",
	"<--", "←",
	"==>", "⇒",
	"<==", "⇐",
)

// SmartArrows replaces ASCII arrow sequences with their unicode
// equivalents outside of code fences and inline code spans.
func SmartArrows(content string) string {
	lines := strings.Split(content, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence || strings.Contains(line, "`") {
			continue
		}
		lines[i] = arrowReplacer.Replace(line)
	}
	return strings.Join(lines, "\n")
}
