package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/doctree"
	"github.com/dgallion1/arxivmd/internal/extract"
	"github.com/dgallion1/arxivmd/internal/fetch"
	"github.com/dgallion1/arxivmd/internal/ingest"
	"github.com/dgallion1/arxivmd/internal/latex"
	"github.com/go-chi/chi/v5"
)

// Request bodies are small JSON documents; anything bigger is abuse.
const maxRequestBytes = 64 << 10

// SectionList accepts either a JSON array of titles or a single
// comma-separated string.
type SectionList []string

func (s *SectionList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = splitSections(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return errors.New("sections must be a list of titles or a comma-separated string")
	}
	*s = splitSections(strings.Split(joined, ","))
	return nil
}

func splitSections(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IngestRequest is the JSON body of POST /api/ingest.
type IngestRequest struct {
	InputText             string      `json:"input_text"`
	RemoveRefs            bool        `json:"remove_refs"`
	RemoveTOC             bool        `json:"remove_toc"`
	RemoveInlineCitations bool        `json:"remove_inline_citations"`
	SectionFilterMode     string      `json:"section_filter_mode"`
	Sections              SectionList `json:"sections"`
}

// IngestResponse is the success body of POST /api/ingest.
type IngestResponse struct {
	ArxivID           string   `json:"arxiv_id"`
	Version           string   `json:"version,omitempty"`
	Title             string   `json:"title,omitempty"`
	SourceURL         string   `json:"source_url"`
	Summary           string   `json:"summary"`
	DigestURL         string   `json:"digest_url"`
	Tree              string   `json:"tree"`
	Content           string   `json:"content"`
	RemoveRefs        bool     `json:"remove_refs"`
	RemoveTOC         bool     `json:"remove_toc"`
	SectionFilterMode string   `json:"section_filter_mode"`
	Sections          []string `json:"sections"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, errMsg := decodeIngestRequest(w, r)
	if errMsg != "" {
		jsonError(w, errMsg, http.StatusBadRequest)
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), req.InputText, req.options())
	if err != nil {
		s.writeIngestError(w, req.InputText, err)
		return
	}

	digestURL := "/api/download/file/" + s.digests.Put(res.Tree+"\n"+res.Content)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(IngestResponse{
		ArxivID:           res.ID,
		Version:           res.Version,
		Title:             res.Title,
		SourceURL:         res.SourceURL,
		Summary:           res.Summary,
		DigestURL:         digestURL,
		Tree:              res.Tree,
		Content:           s.cropContent(res.Content),
		RemoveRefs:        req.RemoveRefs,
		RemoveTOC:         req.RemoveTOC,
		SectionFilterMode: req.SectionFilterMode,
		Sections:          []string(req.Sections),
	})
}

// decodeIngestRequest parses and validates the request body, returning a
// non-empty message on any client error.
func decodeIngestRequest(w http.ResponseWriter, r *http.Request) (IngestRequest, string) {
	var req IngestRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, "invalid request body: " + err.Error()
	}
	req.InputText = strings.TrimSpace(req.InputText)
	if req.InputText == "" {
		return req, "input_text is required"
	}
	if req.SectionFilterMode == "" {
		req.SectionFilterMode = doctree.ModeExclude
	}
	if req.SectionFilterMode != doctree.ModeInclude && req.SectionFilterMode != doctree.ModeExclude {
		return req, fmt.Sprintf("invalid section_filter_mode %q", req.SectionFilterMode)
	}
	if req.Sections == nil {
		req.Sections = SectionList{}
	}
	return req, ""
}

func (req IngestRequest) options() ingest.Options {
	return ingest.Options{
		RemoveReferences:      req.RemoveRefs,
		RemoveTOC:             req.RemoveTOC,
		RemoveInlineCitations: req.RemoveInlineCitations,
		FilterMode:            req.SectionFilterMode,
		SelectedSections:      []string(req.Sections),
	}
}

// cropContent truncates oversized content for the inline response; the full
// text stays available through the digest download.
func (s *Server) cropContent(content string) string {
	limit := s.cfg.MaxDisplayBytes
	if limit <= 0 || len(content) <= limit {
		return content
	}
	return fmt.Sprintf("(Content cropped to %dk characters, download full ingest to see more)\n%s",
		limit/1000, content[:limit])
}

func (s *Server) writeIngestError(w http.ResponseWriter, input string, err error) {
	status := http.StatusInternalServerError
	var (
		invalidID   *arxivid.InvalidIdentifierError
		noHTML      *fetch.HTMLUnavailableError
		notFound    *fetch.NotAvailableError
		noSource    *latex.SourceUnavailableError
		parseErr    *extract.ParseError
		transient   *fetch.TransientError
		convTimeout *latex.ConversionTimeoutError
		convErr     *latex.ConversionError
	)
	switch {
	case errors.As(err, &invalidID):
		status = http.StatusBadRequest
	case errors.As(err, &noHTML), errors.As(err, &noSource), errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &parseErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &convTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &transient), errors.As(err, &convErr):
		status = http.StatusBadGateway
	}
	s.log.Warn("ingest failed", "input", input, "status", status, "error", err)
	jsonError(w, err.Error(), status)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "digestID")
	body, ok := s.digests.Get(id)
	if !ok {
		jsonError(w, fmt.Sprintf("digest %q not found", id), http.StatusNotFound)
		return
	}
	s.metrics.DigestDownloads.Inc()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".md"))
	w.Write([]byte(body))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
