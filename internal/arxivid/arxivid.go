package arxivid

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SourceKind identifies which upstream representation a candidate URL serves.
type SourceKind string

const (
	KindRenderedHTML SourceKind = "rendered-html"
	KindMirroredHTML SourceKind = "mirrored-html"
	KindSourceBundle SourceKind = "source-bundle"
)

// Candidate is one fetchable representation of a paper.
type Candidate struct {
	Kind SourceKind
	URL  string
}

// PaperReference is a normalized arXiv reference. Immutable once built.
type PaperReference struct {
	ID         string      // canonical identifier without version, e.g. "2401.12345" or "cs/9901001"
	Version    string      // version tag verbatim, e.g. "v2" (empty when unversioned)
	Candidates []Candidate // fetch order: rendered HTML, mirrored HTML, source bundle
	AbsURL     string      // abstract page, for display
}

// InvalidIdentifierError reports input that matches no recognized reference shape.
// No network is ever attempted for invalid input.
type InvalidIdentifierError struct {
	Input  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid arxiv reference %q: %s", e.Input, e.Reason)
}

// Hosts accepted for URL-shaped references.
var allowedHosts = map[string]bool{
	"arxiv.org":            true,
	"www.arxiv.org":        true,
	"ar5iv.org":            true,
	"ar5iv.labs.arxiv.org": true,
}

var (
	newIDPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5})(v\d+)?$`)
	oldIDPattern = regexp.MustCompile(`^([a-z][a-z-]*(?:\.[A-Z]{2})?/\d{7})(v\d+)?$`)
	pathPattern  = regexp.MustCompile(`^/(?:abs|pdf|html|e-print)/(.+?)/?$`)
)

// Parse normalizes free-form reference text into a PaperReference.
// Accepts bare identifiers (modern or legacy, optionally versioned) and
// abs/pdf/html URLs on allow-listed hosts. Pure function, no network.
func Parse(text string) (*PaperReference, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &InvalidIdentifierError{Input: text, Reason: "empty input"}
	}

	raw := trimmed
	if isURL(trimmed) {
		var err error
		raw, err = idFromURL(trimmed)
		if err != nil {
			return nil, err
		}
	}

	id, version, ok := splitVersion(raw)
	if !ok {
		return nil, &InvalidIdentifierError{Input: text, Reason: fmt.Sprintf("unrecognized identifier %q", raw)}
	}
	return newReference(id, version), nil
}

func isURL(text string) bool {
	if strings.Contains(text, "://") {
		return true
	}
	for host := range allowedHosts {
		if strings.HasPrefix(text, host+"/") {
			return true
		}
	}
	return false
}

func idFromURL(text string) (string, error) {
	if !strings.Contains(text, "://") {
		text = "https://" + text
	}
	u, err := url.Parse(text)
	if err != nil {
		return "", &InvalidIdentifierError{Input: text, Reason: "unparseable URL"}
	}
	if u.User != nil {
		return "", &InvalidIdentifierError{Input: text, Reason: "URLs with credentials are not allowed"}
	}
	host := strings.ToLower(u.Hostname())
	if !allowedHosts[host] {
		return "", &InvalidIdentifierError{Input: text, Reason: fmt.Sprintf("unsupported host %q", host)}
	}
	m := pathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", &InvalidIdentifierError{Input: text, Reason: fmt.Sprintf("unrecognized path %q", u.Path)}
	}
	// PDF links often carry a trailing .pdf on the identifier itself.
	return strings.TrimSuffix(m[1], ".pdf"), nil
}

func splitVersion(raw string) (id, version string, ok bool) {
	if m := newIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	if m := oldIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

func newReference(id, version string) *PaperReference {
	vid := id + version
	return &PaperReference{
		ID:      id,
		Version: version,
		Candidates: []Candidate{
			{Kind: KindRenderedHTML, URL: "https://arxiv.org/html/" + vid},
			{Kind: KindMirroredHTML, URL: "https://ar5iv.labs.arxiv.org/html/" + vid},
			{Kind: KindSourceBundle, URL: "https://arxiv.org/e-print/" + vid},
		},
		AbsURL: "https://arxiv.org/abs/" + vid,
	}
}

// VersionedID returns the identifier with its version tag appended, or the
// bare identifier when no version was given.
func (r *PaperReference) VersionedID() string {
	return r.ID + r.Version
}

// CacheKey builds the cache lookup key for one source kind.
func (r *PaperReference) CacheKey(kind SourceKind) string {
	return r.ID + ":" + r.Version + ":" + string(kind)
}

// Candidate returns the candidate for a kind, or nil when absent.
func (r *PaperReference) Candidate(kind SourceKind) *Candidate {
	for i := range r.Candidates {
		if r.Candidates[i].Kind == kind {
			return &r.Candidates[i]
		}
	}
	return nil
}
