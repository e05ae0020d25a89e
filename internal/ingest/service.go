// Package ingest turns an arXiv reference into rendered Markdown output,
// preferring the paper's HTML rendition and falling back to converting its
// LaTeX source bundle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/doctree"
	"github.com/dgallion1/arxivmd/internal/extract"
	"github.com/dgallion1/arxivmd/internal/fetch"
	"github.com/dgallion1/arxivmd/internal/latex"
	"github.com/dgallion1/arxivmd/internal/markdown"
	"github.com/dgallion1/arxivmd/internal/metrics"
	"github.com/dgallion1/arxivmd/internal/output"
)

// Fetcher retrieves paper documents; *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, ref *arxivid.PaperReference, kind arxivid.SourceKind) (*fetch.Document, error)
	FetchFirst(ctx context.Context, ref *arxivid.PaperReference, kinds ...arxivid.SourceKind) (*fetch.Document, error)
}

// Result is a fully ingested paper.
type Result struct {
	ID            string
	Version       string
	Title         string
	Authors       []string
	Source        arxivid.SourceKind
	SourceURL     string
	Summary       string
	Tree          string
	Content       string
	TokenEstimate string
}

// Service runs the ingestion pipeline.
type Service struct {
	fetcher   Fetcher
	converter *latex.Converter
	assembler *output.Assembler
	metrics   *metrics.Metrics
	log       *slog.Logger

	// One slot per concurrent pandoc run.
	convSem chan struct{}
}

func NewService(fetcher Fetcher, converter *latex.Converter, assembler *output.Assembler, m *metrics.Metrics, log *slog.Logger, maxConversions int) *Service {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if maxConversions <= 0 {
		maxConversions = 2
	}
	return &Service{
		fetcher:   fetcher,
		converter: converter,
		assembler: assembler,
		metrics:   m,
		log:       log,
		convSem:   make(chan struct{}, maxConversions),
	}
}

// Ingest resolves reference, fetches the best available representation, and
// renders it. Errors keep their concrete types for classification.
func (s *Service) Ingest(ctx context.Context, reference string, opts Options) (*Result, error) {
	start := time.Now()

	ref, err := arxivid.Parse(reference)
	if err != nil {
		s.metrics.IngestTotal.WithLabelValues("none", "error").Inc()
		return nil, err
	}

	if opts.ForceSourceBundle {
		res, err := s.ingestFromBundle(ctx, ref, opts)
		s.observe(start, arxivid.KindSourceBundle, err)
		return res, err
	}

	doc, err := s.fetcher.FetchFirst(ctx, ref, arxivid.KindRenderedHTML, arxivid.KindMirroredHTML)
	if err != nil {
		var unavailable *fetch.HTMLUnavailableError
		if errors.As(err, &unavailable) && !opts.DisableFallback {
			s.log.Info("no html rendition, converting source bundle", "id", ref.ID, "version", ref.Version)
			res, err := s.ingestFromBundle(ctx, ref, opts)
			s.observe(start, arxivid.KindSourceBundle, err)
			return res, err
		}
		s.metrics.IngestTotal.WithLabelValues("html", "error").Inc()
		return nil, err
	}
	if doc.FromCache {
		s.metrics.CacheHits.Inc()
	}

	res, err := s.ingestFromHTML(ref, doc, opts)
	s.observe(start, doc.Kind, err)
	if err == nil {
		s.log.Debug("ingest complete", "id", ref.ID, "source", doc.Kind, "duration", time.Since(start))
	}
	return res, err
}

func (s *Service) ingestFromHTML(ref *arxivid.PaperReference, doc *fetch.Document, opts Options) (*Result, error) {
	paper, err := extract.Parse(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s%s: %w", ref.ID, ref.Version, err)
	}

	markdown.Convert(paper.Sections, markdown.Options{
		RemoveTOC:             opts.RemoveTOC,
		RemoveReferences:      opts.RemoveReferences,
		RemoveInlineCitations: opts.RemoveInlineCitations,
	})

	sections := doctree.Filter(paper.Sections, doctree.FilterSpec{
		Mode:   opts.FilterMode,
		Titles: opts.SelectedSections,
	})
	if opts.RemoveReferences {
		sections = doctree.Filter(sections, doctree.FilterSpec{
			Mode:   doctree.ModeExclude,
			Titles: doctree.ReferenceTitles,
		})
	}

	rendered := s.assembler.Render(output.Paper{
		ID:       ref.ID,
		Version:  ref.Version,
		Title:    paper.Title,
		Authors:  paper.Authors,
		Abstract: paper.Abstract,
		Source:   doc.Kind,
		Sections: sections,
	}, output.Options{
		IncludeTOC:      !opts.RemoveTOC,
		IncludeAbstract: abstractIncluded(opts),
	})

	return s.result(ref, paper.Title, paper.Authors, doc.Kind, rendered), nil
}

func (s *Service) ingestFromBundle(ctx context.Context, ref *arxivid.PaperReference, opts Options) (*Result, error) {
	doc, err := s.fetcher.Fetch(ctx, ref, arxivid.KindSourceBundle)
	if err != nil {
		return nil, err
	}
	if doc.FromCache {
		s.metrics.CacheHits.Inc()
	}

	dir, err := os.MkdirTemp("", "arxivmd-bundle-*")
	if err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := latex.ExtractBundle(doc.Body, dir); err != nil {
		return nil, fmt.Errorf("extract bundle %s%s: %w", ref.ID, ref.Version, err)
	}
	mainFile, err := latex.MainFile(dir)
	if err != nil {
		return nil, fmt.Errorf("bundle %s%s: %w", ref.ID, ref.Version, err)
	}

	select {
	case s.convSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.metrics.ConversionsTotal.Inc()
	md, err := s.converter.ToMarkdown(ctx, mainFile)
	<-s.convSem
	if err != nil {
		return nil, fmt.Errorf("convert %s%s: %w", ref.ID, ref.Version, err)
	}

	texBytes, err := os.ReadFile(mainFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", mainFile, err)
	}
	meta := latex.ParseMetadata(string(texBytes))

	sections := []*doctree.Section{{Level: 1, Markdown: strings.TrimSpace(md)}}

	rendered := s.assembler.Render(output.Paper{
		ID:       ref.ID,
		Version:  ref.Version,
		Title:    meta.Title,
		Authors:  meta.Authors,
		Abstract: meta.Abstract,
		Source:   arxivid.KindSourceBundle,
		Sections: sections,
	}, output.Options{
		IncludeTOC:      !opts.RemoveTOC,
		IncludeAbstract: true,
	})

	return s.result(ref, meta.Title, meta.Authors, arxivid.KindSourceBundle, rendered), nil
}

func (s *Service) result(ref *arxivid.PaperReference, title string, authors []string, kind arxivid.SourceKind, rendered output.Result) *Result {
	return &Result{
		ID:            ref.ID,
		Version:       ref.Version,
		Title:         title,
		Authors:       authors,
		Source:        kind,
		SourceURL:     ref.AbsURL,
		Summary:       rendered.Summary,
		Tree:          rendered.Tree,
		Content:       rendered.Content,
		TokenEstimate: rendered.TokenEstimate,
	}
}

func (s *Service) observe(start time.Time, kind arxivid.SourceKind, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		s.metrics.IngestSeconds.Observe(time.Since(start).Seconds())
	}
	s.metrics.IngestTotal.WithLabelValues(string(kind), status).Inc()
}
