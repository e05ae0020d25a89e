// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service counters. Each instance carries its own
// registry, so parallel instances never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal      *prometheus.CounterVec
	IngestSeconds    prometheus.Histogram
	CacheHits        prometheus.Counter
	ConversionsTotal prometheus.Counter
	DigestDownloads  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		IngestTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "arxivmd_ingest_total",
			Help: "Ingest attempts by source kind and outcome.",
		}, []string{"source", "status"}),
		IngestSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "arxivmd_ingest_duration_seconds",
			Help:    "End-to-end ingest latency.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "arxivmd_cache_hits_total",
			Help: "Fetches served from the document cache.",
		}),
		ConversionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "arxivmd_pandoc_conversions_total",
			Help: "Pandoc conversions attempted.",
		}),
		DigestDownloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "arxivmd_digest_downloads_total",
			Help: "Digest files served for download.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
