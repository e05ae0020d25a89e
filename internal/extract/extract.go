package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/dgallion1/arxivmd/internal/doctree"
)

// Paper is the structured content pulled out of an arXiv HTML document.
type Paper struct {
	Title    string
	Authors  []string
	Abstract string
	Sections []*doctree.Section
}

// ParseError reports HTML that could not be interpreted as a paper.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse paper: %s: %v", e.Reason, e.Err)
	}
	return "parse paper: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse extracts title, authors, abstract, and the section tree from a
// LaTeXML-rendered arXiv page (arxiv.org or the ar5iv mirror). The returned
// sections hold live markup handles into the parsed document; nothing here
// mutates that document.
func Parse(data []byte) (*Paper, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Reason: "unparseable HTML", Err: err}
	}
	root := documentRoot(doc)

	paper := &Paper{
		Title:    extractTitle(doc),
		Authors:  extractAuthors(doc, root),
		Abstract: extractAbstract(doc),
		Sections: extractSections(root),
	}
	if len(paper.Sections) == 0 {
		body := syntheticBody(root)
		if body == nil {
			return nil, &ParseError{Reason: "document has no recognizable content"}
		}
		paper.Sections = []*doctree.Section{body}
	}
	return paper, nil
}

// documentRoot picks the element holding the paper proper: the LaTeXML
// article, any article, the body, or the whole document as a last resort.
func documentRoot(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find("article[class*='ltx_document']").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("body").First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

func extractTitle(doc *goquery.Document) string {
	if h1 := doc.Find("h1[class*='ltx_title']").First(); h1.Length() > 0 {
		return spacedText(h1)
	}
	if t := doc.Find("title").First(); t.Length() > 0 {
		return spacedText(t)
	}
	return ""
}

func extractAuthors(doc *goquery.Document, root *goquery.Selection) []string {
	container := doc.Find("div.ltx_authors").First()
	if container.Length() == 0 {
		container = root.Find("div.ltx_authors").First()
	}
	if container.Length() == 0 {
		return nil
	}

	nodes := container.Find("span.ltx_text.ltx_font_bold")
	if nodes.Length() == 0 {
		nodes = container.Find("[class*='ltx_author'], [class*='ltx_personname']")
	}

	var authors []string
	seen := make(map[string]bool)
	nodes.Each(func(_ int, sel *goquery.Selection) {
		for _, author := range cleanAuthorText(sel) {
			if !seen[author] {
				seen[author] = true
				authors = append(authors, author)
			}
		}
	})
	return authors
}

var (
	emailPattern = regexp.MustCompile(`^[\w.+-]+@[\w.-]+\.\w+$`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Author blocks mix names with footnotes and contribution statements.
// Anything matching these is noise, not a name.
var skipAuthorKeywords = []string{
	"footnotemark:",
	"equal contribution",
	"work performed",
	"listing order",
}

const maxAuthorPartLen = 80

// cleanAuthorText splits one author node into name/affiliation parts,
// dropping footnote markers, emails, and sentence-like fragments.
func cleanAuthorText(sel *goquery.Selection) []string {
	var lines []string
	for _, n := range sel.Nodes {
		collectAuthorLines(n, &lines)
	}

	var cleaned []string
	for _, raw := range lines {
		for _, part := range strings.Split(raw, "\n") {
			part = strings.TrimSpace(spaceRun.ReplaceAllString(part, " "))
			part = strings.TrimSpace(strings.TrimLeft(part, "&"))
			if part == "" {
				continue
			}
			if emailPattern.MatchString(part) || digitsOnly.MatchString(part) {
				continue
			}
			if containsAnyFold(part, skipAuthorKeywords) {
				continue
			}
			runes := utf8.RuneCountInString(part)
			if runes > maxAuthorPartLen {
				continue
			}
			if strings.Count(part, ".") > 1 || (strings.HasSuffix(part, ".") && runes > 40) {
				continue
			}
			cleaned = append(cleaned, part)
		}
	}
	return cleaned
}

func containsAnyFold(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// collectAuthorLines gathers text fragments, skipping superscript footnote
// markers and note subtrees entirely.
func collectAuthorLines(n *html.Node, lines *[]string) {
	if n.Type == html.ElementNode {
		if n.Data == "sup" || classContains(n, "ltx_note") || classContains(n, "ltx_role_footnote") {
			return
		}
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*lines = append(*lines, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectAuthorLines(c, lines)
	}
}

func extractAbstract(doc *goquery.Document) string {
	block := doc.Find("[class*='ltx_abstract']").First()
	if block.Length() == 0 {
		return ""
	}
	var parts []string
	for _, n := range block.Nodes {
		collectAbstractText(n, &parts)
	}
	return strings.Join(parts, " ")
}

// collectAbstractText is spacedText minus the abstract's own heading.
func collectAbstractText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			return
		}
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectAbstractText(c, parts)
	}
}

// extractSections builds the section tree from headings in document order.
// Each heading opens a node nested under the most recent heading of strictly
// lower level.
func extractSections(root *goquery.Selection) []*doctree.Section {
	var roots []*doctree.Section
	var stack []*doctree.Section

	root.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, heading *goquery.Selection) {
		node := heading.Nodes[0]
		if skipHeading(node) {
			return
		}
		level := int(node.Data[1] - '0')
		title := spacedText(heading)
		anchor := attr(node, "id")
		if anchor == "" && node.Parent != nil && node.Parent.Type == html.ElementNode {
			anchor = attr(node.Parent, "id")
		}

		sec := &doctree.Section{
			Title:     title,
			NormTitle: doctree.NormalizeTitle(title),
			Level:     level,
			Anchor:    anchor,
			Markup:    sectionMarkup(node),
		}

		for len(stack) > 0 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, sec)
		} else {
			roots = append(roots, sec)
		}
		stack = append(stack, sec)
	})
	return roots
}

// skipHeading filters out headings that are not section openers: page
// navigation, the abstract's own title, and the document title.
func skipHeading(n *html.Node) bool {
	if hasClass(n, "ltx_title_document") {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if p.Data == "nav" || classContains(p, "ltx_abstract") {
			return true
		}
	}
	return false
}

// sectionMarkup collects the heading's parent-section content after the
// heading itself, excluding nested section elements.
func sectionMarkup(heading *html.Node) []*html.Node {
	section := heading.Parent
	for section != nil && !(section.Type == html.ElementNode && section.Data == "section") {
		section = section.Parent
	}
	if section == nil {
		return nil
	}

	var markup []*html.Node
	started := false
	for child := section.FirstChild; child != nil; child = child.NextSibling {
		if child == heading {
			started = true
			continue
		}
		if !started {
			continue
		}
		switch child.Type {
		case html.ElementNode:
			if child.Data == "section" {
				continue
			}
			if classHasPrefix(child, "ltx_section", "ltx_subsection", "ltx_subsubsection") {
				continue
			}
			markup = append(markup, child)
		case html.TextNode:
			if strings.TrimSpace(child.Data) != "" {
				markup = append(markup, child)
			}
		}
	}
	return markup
}

// syntheticBody wraps a heading-less document's content in one section so
// downstream stages have something to serialize.
func syntheticBody(root *goquery.Selection) *doctree.Section {
	if len(root.Nodes) == 0 {
		return nil
	}
	var markup []*html.Node
	for c := root.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			markup = append(markup, c)
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				markup = append(markup, c)
			}
		}
	}
	if len(markup) == 0 || spacedText(root) == "" {
		return nil
	}
	return &doctree.Section{
		Title:     "Body",
		NormTitle: doctree.NormalizeTitle("Body"),
		Level:     1,
		Markup:    markup,
	}
}

// spacedText joins every descendant text fragment with single spaces.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// hasClass reports exact membership of one class token.
func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

// classContains reports whether the class attribute mentions the substring.
func classContains(n *html.Node, substr string) bool {
	return strings.Contains(attr(n, "class"), substr)
}

// classHasPrefix reports whether any class token starts with one of the
// given prefixes.
func classHasPrefix(n *html.Node, prefixes ...string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		for _, prefix := range prefixes {
			if strings.HasPrefix(token, prefix) {
				return true
			}
		}
	}
	return false
}
