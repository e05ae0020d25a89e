package output

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/doctree"
)

type fakeTokens struct {
	n   int
	err error
}

func (f fakeTokens) Count(string) (int, error) { return f.n, f.err }

func samplePaper() Paper {
	return Paper{
		ID:       "2401.12345",
		Version:  "v2",
		Title:    "Learning to Learn",
		Authors:  []string{"Ada Lovelace", "Grace Hopper"},
		Abstract: "We study things.",
		Source:   arxivid.KindRenderedHTML,
		Sections: []*doctree.Section{
			{
				Title:    "1 Introduction",
				Level:    2,
				Markdown: "Intro text.",
				Children: []*doctree.Section{
					{Title: "1.1 Motivation", Level: 3, Markdown: "Because."},
				},
			},
			{Title: "2 Method", Level: 2, Markdown: "Steps."},
		},
	}
}

func TestRenderHTMLPaper(t *testing.T) {
	a := NewAssembler(fakeTokens{n: 1500})
	got := a.Render(samplePaper(), Options{IncludeTOC: true, IncludeAbstract: true})

	wantSummary := `Title: Learning to Learn
ArXiv: 2401.12345
Version: v2
Authors: Ada Lovelace, Grace Hopper
Source: HTML (arxiv.org)
Sections: 3
Estimated tokens: 1.5k`
	if got.Summary != wantSummary {
		t.Errorf("Summary =\n%s\nwant\n%s", got.Summary, wantSummary)
	}

	wantTree := `Sections:
Abstract
1 Introduction
    1.1 Motivation
2 Method`
	if got.Tree != wantTree {
		t.Errorf("Tree =\n%s\nwant\n%s", got.Tree, wantTree)
	}

	wantContent := `## Contents
- 1 Introduction
  - 1.1 Motivation
- 2 Method

## Abstract

We study things.

## 1 Introduction

Intro text.

### 1.1 Motivation

Because.

## 2 Method

Steps.`
	if got.Content != wantContent {
		t.Errorf("Content =\n%s\nwant\n%s", got.Content, wantContent)
	}

	if got.TokenEstimate != "1.5k" {
		t.Errorf("TokenEstimate = %q, want 1.5k", got.TokenEstimate)
	}
}

func TestRenderBundlePaper(t *testing.T) {
	p := Paper{
		ID:       "2401.12345",
		Title:    "Learning to Learn",
		Authors:  []string{"Ada Lovelace"},
		Abstract: "From the source.",
		Source:   arxivid.KindSourceBundle,
		Sections: []*doctree.Section{
			{Level: 1, Markdown: "# Converted Heading\n\nBody text."},
		},
	}

	a := NewAssembler(fakeTokens{n: 42})
	got := a.Render(p, Options{IncludeTOC: true, IncludeAbstract: true})

	wantSummary := `Title: Learning to Learn
ArXiv: 2401.12345
Authors: Ada Lovelace
Source: LaTeX (via Pandoc)
Estimated tokens: 42`
	if got.Summary != wantSummary {
		t.Errorf("Summary =\n%s\nwant\n%s", got.Summary, wantSummary)
	}

	if got.Tree != "Sections:\n(Converted from LaTeX source)" {
		t.Errorf("Tree = %q", got.Tree)
	}

	wantContent := `## Contents
(Table of contents not available for LaTeX source)

## Abstract

From the source.

# Converted Heading

Body text.`
	if got.Content != wantContent {
		t.Errorf("Content =\n%s\nwant\n%s", got.Content, wantContent)
	}
}

func TestRenderWithoutTokenizer(t *testing.T) {
	a := NewAssembler(nil)
	got := a.Render(samplePaper(), Options{IncludeAbstract: true})

	if strings.Contains(got.Summary, "Estimated tokens") {
		t.Errorf("Summary contains estimate line without a tokenizer:\n%s", got.Summary)
	}
	if got.TokenEstimate != "" {
		t.Errorf("TokenEstimate = %q, want empty", got.TokenEstimate)
	}
}

func TestRenderTokenizerError(t *testing.T) {
	a := NewAssembler(fakeTokens{err: errors.New("no encoding data")})
	got := a.Render(samplePaper(), Options{IncludeAbstract: true})

	if strings.Contains(got.Summary, "Estimated tokens") {
		t.Errorf("Summary contains estimate line despite tokenizer error:\n%s", got.Summary)
	}
}

func TestRenderOmitsEmptyFields(t *testing.T) {
	p := Paper{ID: "2401.99999", Source: arxivid.KindMirroredHTML}
	a := NewAssembler(nil)
	got := a.Render(p, Options{})

	wantSummary := `ArXiv: 2401.99999
Source: HTML (ar5iv)
Sections: 0`
	if got.Summary != wantSummary {
		t.Errorf("Summary =\n%s\nwant\n%s", got.Summary, wantSummary)
	}
	if got.Tree != "Sections:\n" {
		t.Errorf("Tree = %q, want bare header", got.Tree)
	}
	if got.Content != "" {
		t.Errorf("Content = %q, want empty", got.Content)
	}
}

func TestRenderAbstractExcludedFromContentOnly(t *testing.T) {
	a := NewAssembler(nil)
	got := a.Render(samplePaper(), Options{IncludeAbstract: false})

	if !strings.Contains(got.Tree, "Abstract") {
		t.Errorf("Tree lost the abstract entry:\n%s", got.Tree)
	}
	if strings.Contains(got.Content, "## Abstract") {
		t.Errorf("Content kept the excluded abstract:\n%s", got.Content)
	}
}

func TestRenderTOCDisabled(t *testing.T) {
	a := NewAssembler(nil)
	got := a.Render(samplePaper(), Options{IncludeTOC: false, IncludeAbstract: true})

	if strings.Contains(got.Content, "## Contents") {
		t.Errorf("Content kept the disabled ToC:\n%s", got.Content)
	}
}

func TestSourceLabels(t *testing.T) {
	tests := []struct {
		kind arxivid.SourceKind
		want string
	}{
		{arxivid.KindRenderedHTML, "HTML (arxiv.org)"},
		{arxivid.KindMirroredHTML, "HTML (ar5iv)"},
		{arxivid.KindSourceBundle, "LaTeX (via Pandoc)"},
	}

	for _, tt := range tests {
		if got := sourceLabel(tt.kind); got != tt.want {
			t.Errorf("sourceLabel(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
