package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/dgallion1/arxivmd/internal/arxivid"
	"github.com/dgallion1/arxivmd/internal/cache"
)

// Document is one fetched representation of a paper. Cached as JSON, so the
// body survives a round trip through any cache backend.
type Document struct {
	Body        []byte             `json:"body"`
	ContentType string             `json:"content_type"`
	Kind        arxivid.SourceKind `json:"kind"`
	FetchedAt   time.Time          `json:"fetched_at"`
	FromCache   bool               `json:"-"`
}

// Options configures a Fetcher. Zero values fall back to conservative
// defaults; a nil Cache disables caching entirely.
type Options struct {
	Cache     cache.Store
	TTL       time.Duration
	Policy    RetryPolicy
	RPS       float64
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
	Logger    *slog.Logger
}

// Fetcher retrieves paper representations over HTTP with caching, outbound
// rate limiting, retry on transient upstream failures, and coalescing of
// concurrent requests for the same document.
type Fetcher struct {
	client    *http.Client
	cache     cache.Store
	limiter   *rate.Limiter
	group     singleflight.Group
	policy    RetryPolicy
	ttl       time.Duration
	userAgent string
	maxBytes  int64
	log       *slog.Logger
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "arxivmd/0.1"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	lim := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		lim = rate.Limit(opts.RPS)
		if opts.RPS >= 1 {
			burst = int(opts.RPS)
		}
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		cache:     opts.Cache,
		limiter:   rate.NewLimiter(lim, burst),
		policy:    opts.Policy,
		ttl:       opts.TTL,
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		log:       opts.Logger,
	}
}

// Fetch retrieves the given representation of a paper, consulting the cache
// first. Concurrent calls for the same document share one upstream request.
func (f *Fetcher) Fetch(ctx context.Context, ref *arxivid.PaperReference, kind arxivid.SourceKind) (*Document, error) {
	cand := ref.Candidate(kind)
	if cand == nil {
		return nil, &NotAvailableError{Kind: kind}
	}

	key := ref.CacheKey(kind)
	if doc, ok := f.cached(ctx, key); ok {
		return doc, nil
	}

	ch := f.group.DoChan(key, func() (any, error) {
		doc, err := f.fetchRemote(ctx, cand)
		if err != nil {
			return nil, err
		}
		f.store(ctx, key, doc)
		return doc, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	}
}

// FetchFirst walks the given source kinds in priority order and returns the
// first available document. A kind that is definitively absent advances the
// walk; a transient failure aborts it, since falling through to a
// lower-fidelity source on a flaky upstream would be lossy. Exhausting every
// kind reports HTMLUnavailableError, the caller's cue to try the e-print
// bundle instead.
func (f *Fetcher) FetchFirst(ctx context.Context, ref *arxivid.PaperReference, kinds ...arxivid.SourceKind) (*Document, error) {
	for _, kind := range kinds {
		doc, err := f.Fetch(ctx, ref, kind)
		if err == nil {
			return doc, nil
		}
		var na *NotAvailableError
		if errors.As(err, &na) {
			f.log.Info("representation unavailable", "id", ref.VersionedID(), "kind", kind)
			continue
		}
		return nil, err
	}
	return nil, &HTMLUnavailableError{ID: ref.ID, Version: ref.Version}
}

func (f *Fetcher) cached(ctx context.Context, key string) (*Document, bool) {
	if f.cache == nil {
		return nil, false
	}
	data, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		f.log.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		f.log.Warn("cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	doc.FromCache = true
	return &doc, true
}

func (f *Fetcher) store(ctx context.Context, key string, doc *Document) {
	if f.cache == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, key, data, f.ttl); err != nil {
		f.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func (f *Fetcher) fetchRemote(ctx context.Context, cand *arxivid.Candidate) (*Document, error) {
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		doc, retryable, err := f.doRequest(ctx, cand)
		if err == nil {
			return doc, nil
		}
		if !retryable || attempt >= f.policy.MaxRetries {
			return nil, err
		}
		delay := f.policy.Delay(attempt)
		f.log.Warn("fetch retry", "url", cand.URL, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// doRequest performs a single upstream request. The returned bool reports
// whether the failure is worth retrying.
func (f *Fetcher) doRequest(ctx context.Context, cand *arxivid.Candidate) (*Document, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &TransientError{Kind: cand.Kind, URL: cand.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, &NotAvailableError{Kind: cand.Kind, URL: cand.URL, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, f.policy.Retryable(resp.StatusCode), &TransientError{Kind: cand.Kind, URL: cand.URL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &TransientError{Kind: cand.Kind, URL: cand.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, false, &TransientError{Kind: cand.Kind, URL: cand.URL, Err: fmt.Errorf("response exceeds %d bytes", f.maxBytes)}
	}

	ct := resp.Header.Get("Content-Type")
	if cand.Kind != arxivid.KindSourceBundle {
		// arXiv answers some /html URLs with a PDF or an abs-page redirect
		// rather than 404. Treat anything that is not HTML as absent.
		if !strings.Contains(strings.ToLower(ct), "html") || bytes.HasPrefix(body, []byte("%PDF")) {
			return nil, false, &NotAvailableError{Kind: cand.Kind, URL: cand.URL, Status: resp.StatusCode}
		}
	}

	return &Document{
		Body:        body,
		ContentType: ct,
		Kind:        cand.Kind,
		FetchedAt:   time.Now().UTC(),
	}, false, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// NotAvailableError means the upstream definitively has no such
// representation. The fallback chain advances past it.
type NotAvailableError struct {
	Kind   arxivid.SourceKind
	URL    string
	Status int
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("%s not available (status %d): %s", e.Kind, e.Status, e.URL)
}

// TransientError means the upstream failed in a way that retrying later may
// fix: a network error, a retryable status, or an exhausted retry budget.
type TransientError struct {
	Kind   arxivid.SourceKind
	URL    string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// HTMLUnavailableError means neither HTML representation exists for the
// paper. Callers fall back to the e-print source bundle.
type HTMLUnavailableError struct {
	ID      string
	Version string
}

func (e *HTMLUnavailableError) Error() string {
	return fmt.Sprintf("no HTML representation available for %s%s", e.ID, e.Version)
}
