package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/arxivmd/internal/api"
	"github.com/dgallion1/arxivmd/internal/cache"
	"github.com/dgallion1/arxivmd/internal/config"
	"github.com/dgallion1/arxivmd/internal/digest"
	"github.com/dgallion1/arxivmd/internal/fetch"
	"github.com/dgallion1/arxivmd/internal/ingest"
	"github.com/dgallion1/arxivmd/internal/latex"
	"github.com/dgallion1/arxivmd/internal/metrics"
	"github.com/dgallion1/arxivmd/internal/output"
	"github.com/dgallion1/arxivmd/internal/token"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openCache(cfg)
	if err != nil {
		log.Error("cache init failed", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	fetcher := fetch.New(fetch.Options{
		Cache: store,
		TTL:   cfg.CacheTTL,
		Policy: fetch.RetryPolicy{
			MaxRetries: cfg.FetchRetries,
			BaseDelay:  cfg.FetchBackoff,
		},
		RPS:       cfg.FetchRPS,
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		MaxBytes:  cfg.MaxFetchBytes,
		Logger:    log,
	})

	converter := latex.NewConverter(cfg.PandocPath, cfg.PandocTimeout, log)
	assembler := output.NewAssembler(token.NewEstimator())
	m := metrics.New()
	svc := ingest.NewService(fetcher, converter, assembler, m, log, cfg.MaxConcurrentConv)

	digests := digest.NewStore(cfg.DigestTTL)
	digests.Start(ctx)

	srv := api.NewServer(svc, digests, m, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		digests.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting arxivmd", "port", cfg.Port, "cache_backend", cfg.CacheBackend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openCache(cfg config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.BackendFilesystem:
		return cache.NewFilesystem(cfg.CacheDir)
	case config.BackendRedis:
		return cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return cache.NewMemory(), nil
	}
}
