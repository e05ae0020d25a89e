package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/arxivmd/internal/config"
	"github.com/dgallion1/arxivmd/internal/digest"
	"github.com/dgallion1/arxivmd/internal/ingest"
	"github.com/dgallion1/arxivmd/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Ingestor runs the ingestion pipeline for one arXiv reference.
// *ingest.Service satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, reference string, opts ingest.Options) (*ingest.Result, error)
}

// Server is the HTTP API server for arxivmd.
type Server struct {
	router   chi.Router
	ingestor Ingestor
	digests  *digest.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(ing Ingestor, digests *digest.Store, m *metrics.Metrics, log *slog.Logger, cfg config.Config) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		ingestor: ing,
		digests:  digests,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/", s.handleIndex)
	r.Post("/", s.handleIndex)

	// API endpoints, bearer-authenticated when a key is configured.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/download/file/{digestID}", s.handleDownload)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
