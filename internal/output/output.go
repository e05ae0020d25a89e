// Package output assembles the summary, section tree, and content views of
// an ingested paper.
package output

import (
	"fmt"
	"strings"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/doctree"
	"github.com/dgallion1/arxivmd/internal/token"
)

// Tokenizer estimates how many tokens a text spans. A failing implementation
// costs the caller the estimate line, nothing else.
type Tokenizer interface {
	Count(text string) (int, error)
}

// Paper carries everything known about a paper at assembly time. Abstract
// reflects what the source document had; whether it lands in the content is
// an Options decision.
type Paper struct {
	ID       string
	Version  string
	Title    string
	Authors  []string
	Abstract string
	Source   arxivid.SourceKind
	Sections []*doctree.Section
}

// Options control the optional blocks of the content view.
type Options struct {
	IncludeTOC      bool
	IncludeAbstract bool
}

// Result holds the three rendered views. TokenEstimate repeats the summary's
// estimate for callers that want it on its own; empty when unavailable.
type Result struct {
	Summary       string
	Tree          string
	Content       string
	TokenEstimate string
}

// Assembler renders papers into their output views.
type Assembler struct {
	tok Tokenizer
}

// NewAssembler returns an Assembler. A nil tokenizer disables estimates.
func NewAssembler(tok Tokenizer) *Assembler {
	return &Assembler{tok: tok}
}

func (a *Assembler) Render(p Paper, opts Options) Result {
	tree := renderTree(p)
	content := renderContent(p, opts)
	estimate := a.estimate(tree + "\n" + content)

	var lines []string
	if p.Title != "" {
		lines = append(lines, "Title: "+p.Title)
	}
	lines = append(lines, "ArXiv: "+p.ID)
	if p.Version != "" {
		lines = append(lines, "Version: "+p.Version)
	}
	if len(p.Authors) > 0 {
		lines = append(lines, "Authors: "+strings.Join(p.Authors, ", "))
	}
	lines = append(lines, "Source: "+sourceLabel(p.Source))
	if p.Source != arxivid.KindSourceBundle {
		lines = append(lines, fmt.Sprintf("Sections: %d", doctree.Count(p.Sections)))
	}
	if estimate != "" {
		lines = append(lines, "Estimated tokens: "+estimate)
	}

	return Result{
		Summary:       strings.Join(lines, "\n"),
		Tree:          tree,
		Content:       content,
		TokenEstimate: estimate,
	}
}

func (a *Assembler) estimate(text string) string {
	if a.tok == nil {
		return ""
	}
	n, err := a.tok.Count(text)
	if err != nil {
		return ""
	}
	return token.Format(n)
}

func sourceLabel(kind arxivid.SourceKind) string {
	switch kind {
	case arxivid.KindRenderedHTML:
		return "HTML (arxiv.org)"
	case arxivid.KindMirroredHTML:
		return "HTML (ar5iv)"
	case arxivid.KindSourceBundle:
		return "LaTeX (via Pandoc)"
	}
	return string(kind)
}

// renderTree lists section titles indented four spaces per level. A paper
// converted from its source bundle has no parsed structure to list.
func renderTree(p Paper) string {
	if p.Source == arxivid.KindSourceBundle {
		return "Sections:\n(Converted from LaTeX source)"
	}
	var lines []string
	if p.Abstract != "" {
		lines = append(lines, "Abstract")
	}
	lines = appendTreeLines(lines, p.Sections, 0)
	return "Sections:\n" + strings.Join(lines, "\n")
}

func appendTreeLines(lines []string, sections []*doctree.Section, depth int) []string {
	for _, s := range sections {
		lines = append(lines, strings.Repeat("    ", depth)+s.Title)
		lines = appendTreeLines(lines, s.Children, depth+1)
	}
	return lines
}

func renderContent(p Paper, opts Options) string {
	var blocks []string

	if opts.IncludeTOC {
		if p.Source == arxivid.KindSourceBundle {
			blocks = append(blocks, "## Contents\n(Table of contents not available for LaTeX source)")
		} else if toc := renderTOC(p.Sections, 0); toc != "" {
			blocks = append(blocks, "## Contents\n"+toc)
		}
	}

	if p.Abstract != "" && opts.IncludeAbstract {
		blocks = append(blocks, "## Abstract", strings.TrimSpace(p.Abstract))
	}

	for _, s := range p.Sections {
		blocks = appendSectionBlocks(blocks, s)
	}

	kept := blocks[:0]
	for _, b := range blocks {
		if b != "" {
			kept = append(kept, b)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n\n"))
}

func renderTOC(sections []*doctree.Section, indent int) string {
	var lines []string
	for _, s := range sections {
		lines = append(lines, strings.Repeat("  ", indent)+"- "+s.Title)
		if len(s.Children) > 0 {
			lines = append(lines, renderTOC(s.Children, indent+1))
		}
	}
	return strings.Join(lines, "\n")
}

// appendSectionBlocks emits a heading block then the section's Markdown,
// depth first. Untitled sections contribute their Markdown alone.
func appendSectionBlocks(blocks []string, s *doctree.Section) []string {
	if s.Title != "" {
		level := s.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		blocks = append(blocks, strings.Repeat("#", level)+" "+s.Title)
	}
	if s.Markdown != "" {
		blocks = append(blocks, s.Markdown)
	}
	for _, c := range s.Children {
		blocks = appendSectionBlocks(blocks, c)
	}
	return blocks
}
