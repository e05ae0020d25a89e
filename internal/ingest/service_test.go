package ingest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/fetch"
	"github.com/dgallion1/arxivmd/internal/latex"
	"github.com/dgallion1/arxivmd/internal/metrics"
	"github.com/dgallion1/arxivmd/internal/output"
)

const pageHTML = `<!DOCTYPE html>
<html><body>
<article class="ltx_document">
  <h1 class="ltx_title ltx_title_document">Learning to Learn</h1>
  <div class="ltx_authors">
    <span class="ltx_creator"><span class="ltx_text ltx_font_bold">Ada Lovelace</span></span>
  </div>
  <div class="ltx_abstract">
    <h6 class="ltx_title ltx_title_abstract">Abstract</h6>
    <p class="ltx_p">We study how machines learn.</p>
  </div>
  <section id="S1" class="ltx_section">
    <h2 class="ltx_title ltx_title_section">1 Introduction</h2>
    <div id="S1.p1" class="ltx_para"><p class="ltx_p">Learning matters.</p></div>
  </section>
  <section id="S2" class="ltx_section">
    <h2 class="ltx_title ltx_title_section">2 Method</h2>
    <div id="S2.p1" class="ltx_para"><p class="ltx_p">We apply gradients.</p></div>
  </section>
  <section id="bib" class="ltx_bibliography">
    <h2 class="ltx_title ltx_title_bibliography">References</h2>
    <ul class="ltx_biblist">
      <li class="ltx_bibitem">Prior work, 2020.</li>
    </ul>
  </section>
</article>
</body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[arxivid.SourceKind]*fetch.Document
	errs  map[arxivid.SourceKind]error
	calls []arxivid.SourceKind
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref *arxivid.PaperReference, kind arxivid.SourceKind) (*fetch.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()

	if err, ok := f.errs[kind]; ok {
		return nil, err
	}
	if doc, ok := f.docs[kind]; ok {
		return doc, nil
	}
	return nil, &fetch.NotAvailableError{Kind: kind, Status: 404}
}

func (f *fakeFetcher) FetchFirst(ctx context.Context, ref *arxivid.PaperReference, kinds ...arxivid.SourceKind) (*fetch.Document, error) {
	for _, kind := range kinds {
		doc, err := f.Fetch(ctx, ref, kind)
		if err != nil {
			var na *fetch.NotAvailableError
			if errors.As(err, &na) {
				continue
			}
			return nil, err
		}
		return doc, nil
	}
	return nil, &fetch.HTMLUnavailableError{ID: ref.ID, Version: ref.Version}
}

func (f *fakeFetcher) called(kind arxivid.SourceKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.calls {
		if k == kind {
			return true
		}
	}
	return false
}

func htmlDoc() *fetch.Document {
	return &fetch.Document{
		Body:        []byte(pageHTML),
		ContentType: "text/html",
		Kind:        arxivid.KindRenderedHTML,
	}
}

func bundleDoc(t *testing.T) *fetch.Document {
	t.Helper()
	mainTex := `\documentclass{article}
\title{Bundle Title}
\author{Solo Author}
\begin{document}
\begin{abstract}
From tex.
\end{abstract}
Body.
\end{document}`

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "main.tex", Mode: 0o644, Size: int64(len(mainTex)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write([]byte(mainTex)); err != nil {
		t.Fatalf("tar body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &fetch.Document{
		Body:        buf.Bytes(),
		ContentType: "application/gzip",
		Kind:        arxivid.KindSourceBundle,
	}
}

func fakePandoc(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pandoc")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake pandoc: %v", err)
	}
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(f *fakeFetcher, pandoc string) *Service {
	conv := latex.NewConverter(pandoc, 5*time.Second, quietLogger())
	return NewService(f, conv, output.NewAssembler(nil), metrics.New(), quietLogger(), 1)
}

func TestIngestHTMLPaper(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: htmlDoc(),
	}}
	svc := newTestService(f, "pandoc-unused")

	res, err := svc.Ingest(context.Background(), "2401.12345v1", Options{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if res.ID != "2401.12345" || res.Version != "v1" {
		t.Errorf("identity = %s %s, want 2401.12345 v1", res.ID, res.Version)
	}
	if res.Title != "Learning to Learn" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.Source != arxivid.KindRenderedHTML {
		t.Errorf("Source = %s", res.Source)
	}
	if !strings.Contains(res.SourceURL, "/abs/2401.12345") {
		t.Errorf("SourceURL = %q, want abs page", res.SourceURL)
	}
	if !strings.Contains(res.Summary, "Source: HTML (arxiv.org)") {
		t.Errorf("Summary missing provenance:\n%s", res.Summary)
	}
	if !strings.Contains(res.Summary, "Authors: Ada Lovelace") {
		t.Errorf("Summary missing authors:\n%s", res.Summary)
	}
	if !strings.Contains(res.Summary, "Sections: 3") {
		t.Errorf("Summary missing section count:\n%s", res.Summary)
	}

	wantTree := "Sections:\nAbstract\n1 Introduction\n2 Method\nReferences"
	if res.Tree != wantTree {
		t.Errorf("Tree =\n%s\nwant\n%s", res.Tree, wantTree)
	}

	for _, want := range []string{
		"## Contents",
		"- 1 Introduction",
		"## Abstract",
		"We study how machines learn.",
		"## 1 Introduction",
		"Learning matters.",
		"## References",
		"- Prior work, 2020.",
	} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("Content missing %q:\n%s", want, res.Content)
		}
	}
}

func TestIngestRemoveReferences(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: htmlDoc(),
	}}
	svc := newTestService(f, "pandoc-unused")

	res, err := svc.Ingest(context.Background(), "2401.12345", Options{RemoveReferences: true})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if strings.Contains(res.Tree, "References") {
		t.Errorf("Tree kept references:\n%s", res.Tree)
	}
	if strings.Contains(res.Content, "Prior work") {
		t.Errorf("Content kept bibliography entries:\n%s", res.Content)
	}
}

func TestIngestIncludeMode(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: htmlDoc(),
	}}
	svc := newTestService(f, "pandoc-unused")

	res, err := svc.Ingest(context.Background(), "2401.12345", Options{
		FilterMode:       "include",
		SelectedSections: []string{"Introduction"},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if !strings.Contains(res.Content, "Learning matters.") {
		t.Errorf("Content lost the selected section:\n%s", res.Content)
	}
	if strings.Contains(res.Content, "We apply gradients.") {
		t.Errorf("Content kept an unselected section:\n%s", res.Content)
	}
	// Include mode with a non-empty selection drops the abstract from the
	// content but the paper still has one, so the tree lists it.
	if strings.Contains(res.Content, "## Abstract") {
		t.Errorf("Content kept the abstract in include mode:\n%s", res.Content)
	}
	if !strings.Contains(res.Tree, "Abstract") {
		t.Errorf("Tree lost the abstract entry:\n%s", res.Tree)
	}
}

func TestIngestRemoveTOC(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: htmlDoc(),
	}}
	svc := newTestService(f, "pandoc-unused")

	res, err := svc.Ingest(context.Background(), "2401.12345", Options{RemoveTOC: true})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if strings.Contains(res.Content, "## Contents") {
		t.Errorf("Content kept the ToC:\n%s", res.Content)
	}
}

func TestIngestFallsBackToBundle(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindSourceBundle: bundleDoc(t),
	}}
	svc := newTestService(f, fakePandoc(t, `echo "# From Pandoc"`))

	res, err := svc.Ingest(context.Background(), "2401.12345", Options{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if res.Source != arxivid.KindSourceBundle {
		t.Errorf("Source = %s, want source bundle", res.Source)
	}
	if res.Title != "Bundle Title" {
		t.Errorf("Title = %q, want Bundle Title", res.Title)
	}
	if !strings.Contains(res.Summary, "Source: LaTeX (via Pandoc)") {
		t.Errorf("Summary missing provenance:\n%s", res.Summary)
	}
	if res.Tree != "Sections:\n(Converted from LaTeX source)" {
		t.Errorf("Tree = %q", res.Tree)
	}
	for _, want := range []string{
		"(Table of contents not available for LaTeX source)",
		"## Abstract",
		"From tex.",
		"# From Pandoc",
	} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("Content missing %q:\n%s", want, res.Content)
		}
	}
}

func TestIngestDisableFallback(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindSourceBundle: bundleDoc(t),
	}}
	svc := newTestService(f, "pandoc-unused")

	_, err := svc.Ingest(context.Background(), "2401.12345", Options{DisableFallback: true})

	var unavailable *fetch.HTMLUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Ingest() error = %v, want HTMLUnavailableError", err)
	}
	if f.called(arxivid.KindSourceBundle) {
		t.Error("bundle fetched despite disabled fallback")
	}
}

func TestIngestForceSourceBundle(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: htmlDoc(),
		arxivid.KindSourceBundle: bundleDoc(t),
	}}
	svc := newTestService(f, fakePandoc(t, `echo "converted"`))

	res, err := svc.Ingest(context.Background(), "2401.12345", Options{ForceSourceBundle: true})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Source != arxivid.KindSourceBundle {
		t.Errorf("Source = %s, want source bundle", res.Source)
	}
	if f.called(arxivid.KindRenderedHTML) || f.called(arxivid.KindMirroredHTML) {
		t.Errorf("HTML fetched despite force flag: %v", f.calls)
	}
}

func TestIngestTransientNotConverted(t *testing.T) {
	f := &fakeFetcher{errs: map[arxivid.SourceKind]error{
		arxivid.KindRenderedHTML: &fetch.TransientError{Kind: arxivid.KindRenderedHTML, Status: 502},
	}}
	svc := newTestService(f, "pandoc-unused")

	_, err := svc.Ingest(context.Background(), "2401.12345", Options{})

	var transient *fetch.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("Ingest() error = %v, want TransientError", err)
	}
	if f.called(arxivid.KindSourceBundle) {
		t.Error("bundle fetched after transient HTML failure")
	}
}

func TestIngestConversionError(t *testing.T) {
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindSourceBundle: bundleDoc(t),
	}}
	svc := newTestService(f, fakePandoc(t, `echo "bad input" >&2; exit 2`))

	_, err := svc.Ingest(context.Background(), "2401.12345", Options{ForceSourceBundle: true})

	var conv *latex.ConversionError
	if !errors.As(err, &conv) {
		t.Fatalf("Ingest() error = %v, want ConversionError", err)
	}
}

func TestIngestInvalidReference(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, "pandoc-unused")

	_, err := svc.Ingest(context.Background(), "not a paper id", Options{})

	var invalid *arxivid.InvalidIdentifierError
	if !errors.As(err, &invalid) {
		t.Fatalf("Ingest() error = %v, want InvalidIdentifierError", err)
	}
}

func TestIngestCountsCacheHits(t *testing.T) {
	doc := htmlDoc()
	doc.FromCache = true
	f := &fakeFetcher{docs: map[arxivid.SourceKind]*fetch.Document{
		arxivid.KindRenderedHTML: doc,
	}}
	m := metrics.New()
	conv := latex.NewConverter("pandoc-unused", 5*time.Second, quietLogger())
	svc := NewService(f, conv, output.NewAssembler(nil), m, quietLogger(), 1)

	if _, err := svc.Ingest(context.Background(), "2401.12345", Options{}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}
