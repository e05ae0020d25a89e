// Package markdown renders extracted section markup into Markdown text.
package markdown

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/arxivmd/internal/doctree"
)

// Options control what the serializer keeps.
type Options struct {
	RemoveTOC             bool
	RemoveReferences      bool
	RemoveInlineCitations bool
}

// Convert renders each section's markup into its Markdown field and discards
// the markup handles. Sections without markup are left untouched.
func Convert(sections []*doctree.Section, opts Options) {
	for _, sec := range sections {
		if len(sec.Markup) > 0 {
			sec.Markdown = Fragment(sec.Markup, opts)
			sec.Markup = nil
		}
		Convert(sec.Children, opts)
	}
}

// Fragment renders a node sequence into Markdown. Blocks are joined by blank
// lines; loose text between block elements is dropped, as are elements that
// carry no content.
func Fragment(nodes []*html.Node, opts Options) string {
	s := serializer{opts: opts}
	var blocks []string
	for _, n := range nodes {
		blocks = append(blocks, s.block(n)...)
	}
	kept := blocks[:0]
	for _, b := range blocks {
		if b != "" {
			kept = append(kept, b)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n\n"))
}

type serializer struct {
	opts Options
}

func (s *serializer) block(n *html.Node) []string {
	if n.Type != html.ElementNode {
		return nil
	}
	if s.stripped(n) {
		return nil
	}

	switch n.Data {
	case "section", "article", "div", "span":
		return s.childBlocks(n)

	case "h1", "h2", "h3", "h4", "h5", "h6":
		heading := normalizeSpace(spacedText(n))
		if heading == "" {
			return nil
		}
		level := int(n.Data[1] - '0')
		return []string{strings.Repeat("#", level) + " " + heading}

	case "p":
		if para := cleanupInline(s.inlineChildren(n)); para != "" {
			return []string{para}
		}
		return nil

	case "ul", "ol":
		if n.Data == "ul" && s.opts.RemoveReferences && hasClass(n, "ltx_biblist") {
			return nil
		}
		if lines := s.list(n, 0); len(lines) > 0 {
			return []string{strings.Join(lines, "\n")}
		}
		return nil

	case "figure":
		if fig := s.figure(n); fig != "" {
			return []string{fig}
		}
		return nil

	case "table":
		if md := s.table(n); md != "" {
			return []string{md}
		}
		return nil

	case "blockquote":
		if content := normalizeSpace(s.inlineChildren(n)); content != "" {
			return []string{"> " + content}
		}
		return nil

	case "math":
		// Display math standing on its own, outside an equation table.
		if tex := mathValue(n); tex != "" {
			return []string{tex}
		}
		return nil

	case "br":
		return nil
	}

	return s.childBlocks(n)
}

func (s *serializer) childBlocks(n *html.Node) []string {
	var blocks []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		blocks = append(blocks, s.block(c)...)
	}
	return blocks
}

func (s *serializer) inline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return n.Data
	case html.ElementNode:
	default:
		return ""
	}
	if s.stripped(n) {
		return ""
	}

	switch n.Data {
	case "br":
		return "\n"
	case "em", "i":
		return "*" + s.inlineChildren(n) + "*"
	case "strong", "b":
		return "**" + s.inlineChildren(n) + "**"
	case "a":
		return s.anchor(n)
	case "sup":
		if text := strings.TrimSpace(s.inlineChildren(n)); text != "" {
			return "^" + text
		}
		return ""
	case "cite":
		return s.inlineChildren(n)
	case "math":
		return mathValue(n)
	}

	if classContains(n, "ltx_note") {
		if text := normalizeSpace(s.inlineChildren(n)); text != "" {
			return "(" + text + ")"
		}
		return ""
	}
	return s.inlineChildren(n)
}

func (s *serializer) inlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(s.inline(c))
	}
	return b.String()
}

// anchor renders links. Citation links lose their URL, keeping only the
// marker text; with RemoveInlineCitations they disappear entirely, as do the
// URLs of intra-paper section references.
func (s *serializer) anchor(n *html.Node) string {
	text := strings.TrimSpace(s.inlineChildren(n))
	href := attr(n, "href")
	if isCitationLink(href) {
		if s.opts.RemoveInlineCitations {
			return ""
		}
		return text
	}
	if s.opts.RemoveInlineCitations && isInternalPaperLink(href) {
		return text
	}
	if href != "" {
		if text == "" {
			text = href
		}
		return "[" + text + "](" + href + ")"
	}
	return text
}

func isCitationLink(href string) bool {
	if href == "" {
		return false
	}
	return strings.Contains(href, "#bib.") || strings.HasPrefix(href, "#bib")
}

func isInternalPaperLink(href string) bool {
	return strings.Contains(href, "arxiv.org/html/") &&
		strings.Contains(href, "#") &&
		!strings.Contains(href, "#bib")
}

// stripped reports elements that never contribute content: page chrome,
// scripts, and the in-document ToC when the ToC toggle drops it.
func (s *serializer) stripped(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "noscript", "link", "meta":
		return true
	case "nav":
		if hasClass(n, "ltx_page_navbar") {
			return true
		}
		if s.opts.RemoveTOC && hasClass(n, "ltx_TOC") {
			return true
		}
	case "button":
		return hasClass(n, "sr-only")
	case "div":
		return hasClass(n, "package-alerts") || hasClass(n, "ltx_pagination")
	case "footer":
		return true
	}
	return false
}

func (s *serializer) list(n *html.Node, indent int) []string {
	var lines []string
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		var parts []string
		var nested []*html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
				nested = append(nested, c)
				continue
			}
			parts = append(parts, s.inline(c))
		}
		text := cleanupInline(strings.Join(parts, ""))
		prefix := strings.Repeat("  ", indent) + "- "
		if text != "" {
			lines = append(lines, prefix+text)
		} else {
			lines = append(lines, strings.TrimRight(prefix, " "))
		}
		for _, nl := range nested {
			lines = append(lines, s.list(nl, indent+1)...)
		}
	}
	return lines
}

var equationTableClass = regexp.MustCompile(`ltx_equationgroup|ltx_eqn_align|ltx_eqn_table`)

func (s *serializer) table(n *html.Node) string {
	if equationTableClass.MatchString(attr(n, "class")) {
		return equationBlock(n)
	}

	var rows [][]string
	appendRow := func(tr *html.Node) {
		var cells []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
				text := cleanupInline(s.inlineChildren(c))
				cells = append(cells, strings.ReplaceAll(text, "\n", "<br>"))
			}
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "tr":
			appendRow(c)
		case "thead", "tbody", "tfoot":
			for r := c.FirstChild; r != nil; r = r.NextSibling {
				if r.Type == html.ElementNode && r.Data == "tr" {
					appendRow(r)
				}
			}
		}
	}
	if len(rows) == 0 {
		return ""
	}

	maxCols := 0
	for _, row := range rows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}

	lines := []string{
		"| " + strings.Join(rows[0], " | ") + " |",
		"| " + strings.Join(repeat("---", maxCols), " | ") + " |",
	}
	for _, row := range rows[1:] {
		lines = append(lines, "| "+strings.Join(row, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

// equationBlock renders an equation-layout table as display math: the TeX of
// every math child plus stray text such as equation numbers.
func equationBlock(n *html.Node) string {
	var parts []string
	collectEquation(n, &parts)
	text := normalizeSpace(strings.Join(parts, " "))
	if text == "" {
		return ""
	}
	return "$$ " + text + " $$"
}

func collectEquation(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	if n.Type == html.ElementNode && n.Data == "math" {
		if tex := mathAnnotation(n); tex != "" {
			*parts = append(*parts, cleanTeX(tex))
		} else if t := spacedText(n); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectEquation(c, parts)
	}
}

func (s *serializer) figure(n *html.Node) string {
	var lines []string
	if caption := findFirst(n, "figcaption"); caption != nil {
		if text := normalizeSpace(s.inlineChildren(caption)); text != "" {
			lines = append(lines, "Figure: "+text)
		}
	}
	if img := findFirst(n, "img"); img != nil {
		if src := attr(img, "src"); src != "" {
			label := attr(img, "alt")
			if label == "" {
				label = "Image"
			}
			lines = append(lines, "!["+label+"]("+src+")")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// mathValue prefers the TeX annotation LaTeXML embeds in every formula;
// without one the presentation MathML is flattened to plain text.
func mathValue(n *html.Node) string {
	if tex := mathAnnotation(n); tex != "" {
		return "$" + cleanTeX(tex) + "$"
	}
	return spacedText(n)
}

func mathAnnotation(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "annotation" && attr(n, "encoding") == "application/x-tex" {
		return strings.TrimSpace(rawText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if tex := mathAnnotation(c); tex != "" {
			return tex
		}
	}
	return ""
}

var escapedScript = regexp.MustCompile(`\\([_^])`)

// cleanTeX strips TeX comment markers and artifacts LaTeXML leaves in
// annotations. Escaped percent signs are shielded before the comment strip.
func cleanTeX(tex string) string {
	tex = strings.TrimSpace(tex)
	tex = strings.ReplaceAll(tex, `\%`, "\x00")
	tex = strings.ReplaceAll(tex, "%", "")
	tex = strings.ReplaceAll(tex, "\x00", `\%`)
	tex = escapedScript.ReplaceAllString(tex, "$1")
	tex = strings.ReplaceAll(tex, `\[`, "[")
	tex = strings.ReplaceAll(tex, `\]`, "]")
	return tex
}

var (
	hspaceRun = regexp.MustCompile(`[ \t]+`)
	nlRun     = regexp.MustCompile(`\s*\n\s*`)
	spaceRun  = regexp.MustCompile(`\s+`)
)

// cleanupInline collapses horizontal whitespace but keeps the line breaks
// that <br> elements introduced.
func cleanupInline(s string) string {
	s = hspaceRun.ReplaceAllString(s, " ")
	s = nlRun.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func spacedText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findFirst(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, name); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

func classContains(n *html.Node, substr string) bool {
	return strings.Contains(attr(n, "class"), substr)
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
