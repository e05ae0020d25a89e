package doctree

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Section is a recursive node in a paper's section tree. Content lives in
// exactly one of Markup (before serialization) or Markdown (after); the
// serializer clears Markup once it has produced Markdown.
type Section struct {
	Title     string       // display heading text, numbering preserved
	NormTitle string       // normalized lookup key (see NormalizeTitle)
	Level     int          // heading depth 1-6
	Anchor    string       // element id when the heading carried one
	Markup    []*html.Node // raw content fragment between this heading and the next
	Markdown  string       // serialized content
	Children  []*Section   // subsections in document order
}

// Filter modes.
const (
	ModeInclude = "include"
	ModeExclude = "exclude"
)

// FilterSpec selects sections by normalized title.
type FilterSpec struct {
	Mode   string   // ModeInclude or ModeExclude (empty means exclude)
	Titles []string // raw titles, normalized before matching
}

// Reference-list titles excluded by the remove-references toggle.
var ReferenceTitles = []string{"references", "bibliography"}

// AbstractTitle is the normalized title of the abstract block.
const AbstractTitle = "abstract"

var (
	wsPattern = regexp.MustCompile(`\s+`)
	// Leading numbering tokens: "1", "1.2", "2.", "a", "a.1", "b.".
	numberingPattern = regexp.MustCompile(`^(?:[0-9]+(?:\.[0-9]+)*\.?|[a-z](?:\.[0-9]+)*\.?)\s+`)
)

// NormalizeTitle folds a heading for comparison: trimmed, lowercased,
// whitespace collapsed, one leading numbering token stripped.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	t = wsPattern.ReplaceAllString(t, " ")
	return numberingPattern.ReplaceAllString(t, "")
}

func (s *Section) normalizedTitle() string {
	if s.NormTitle != "" {
		return s.NormTitle
	}
	return NormalizeTitle(s.Title)
}

// Filter returns a new tree selected by spec. The input is never mutated at
// any depth: kept nodes on changed paths are fresh copies, and subtrees kept
// wholesale are shared by reference. An empty selection returns the input
// unchanged; an empty result is an empty tree, not an error.
func Filter(sections []*Section, spec FilterSpec) []*Section {
	selected := make(map[string]bool, len(spec.Titles))
	for _, title := range spec.Titles {
		if strings.TrimSpace(title) == "" {
			continue
		}
		selected[NormalizeTitle(title)] = true
	}
	if len(selected) == 0 {
		return sections
	}
	include := spec.Mode == ModeInclude
	return filterNodes(sections, selected, include)
}

func filterNodes(nodes []*Section, selected map[string]bool, include bool) []*Section {
	result := make([]*Section, 0, len(nodes))
	for _, node := range nodes {
		matched := selected[node.normalizedTitle()]
		if include {
			if matched {
				result = append(result, node)
				continue
			}
			children := filterNodes(node.Children, selected, include)
			if len(children) > 0 {
				result = append(result, node.withChildren(children))
			}
			continue
		}
		if matched {
			continue
		}
		result = append(result, node.withChildren(filterNodes(node.Children, selected, include)))
	}
	return result
}

func (s *Section) withChildren(children []*Section) *Section {
	copied := *s
	copied.Children = children
	return &copied
}

// Count returns the total number of sections in the tree.
func Count(sections []*Section) int {
	total := 0
	for _, s := range sections {
		total += 1 + Count(s.Children)
	}
	return total
}
