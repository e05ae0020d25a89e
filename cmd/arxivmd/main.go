package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dgallion1/arxivmd/internal/cache"
	"github.com/dgallion1/arxivmd/internal/config"
	"github.com/dgallion1/arxivmd/internal/doctree"
	"github.com/dgallion1/arxivmd/internal/fetch"
	"github.com/dgallion1/arxivmd/internal/ingest"
	"github.com/dgallion1/arxivmd/internal/latex"
	"github.com/dgallion1/arxivmd/internal/output"
	"github.com/dgallion1/arxivmd/internal/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	removeRefs      bool
	removeTOC       bool
	removeCitations bool
	mode            string
	sections        []string
	forceSource     bool
	noFallback      bool
	outputPath      string
	timeout         time.Duration
	quiet           bool
}

func rootCmd() *cobra.Command {
	var opts cliOptions
	cmd := &cobra.Command{
		Use:           "arxivmd <arxiv-url-or-id>",
		Short:         "Turn an arXiv paper into prompt-friendly Markdown",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.removeRefs, "remove-refs", false, "drop the references section")
	f.BoolVar(&opts.removeTOC, "remove-toc", false, "drop the table of contents")
	f.BoolVar(&opts.removeCitations, "remove-citations", false, "drop inline citation markers")
	f.StringVar(&opts.mode, "mode", doctree.ModeExclude, "section filter mode (include or exclude)")
	f.StringSliceVar(&opts.sections, "sections", nil, "section titles to include or exclude")
	f.BoolVar(&opts.forceSource, "force-source", false, "skip HTML and convert the LaTeX source bundle")
	f.BoolVar(&opts.noFallback, "no-fallback", false, "fail instead of converting the source bundle when no HTML exists")
	f.StringVarP(&opts.outputPath, "output", "o", "", "write the digest to this file instead of stdout")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline for the ingestion")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress status output")

	return cmd
}

func run(ctx context.Context, reference string, opts cliOptions) error {
	if opts.mode != doctree.ModeInclude && opts.mode != doctree.ModeExclude {
		return fmt.Errorf("invalid --mode %q (want include or exclude)", opts.mode)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("cache init: %w", err)
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
	svc := ingest.NewService(fetcher, converter, assembler, nil, log, cfg.MaxConcurrentConv)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	status := color.New(color.FgCyan).FprintfFunc()
	done := color.New(color.FgGreen).FprintfFunc()

	if !opts.quiet {
		status(os.Stderr, "Ingesting %s ...\n", reference)
	}
	start := time.Now()

	res, err := svc.Ingest(ctx, reference, ingest.Options{
		RemoveReferences:      opts.removeRefs,
		RemoveTOC:             opts.removeTOC,
		RemoveInlineCitations: opts.removeCitations,
		FilterMode:            opts.mode,
		SelectedSections:      opts.sections,
		ForceSourceBundle:     opts.forceSource,
		DisableFallback:       opts.noFallback,
	})
	if err != nil {
		return err
	}

	if !opts.quiet {
		done(os.Stderr, "✓ ingested %s%s in %s\n", res.ID, res.Version, time.Since(start).Round(time.Millisecond))
		fmt.Fprintln(os.Stderr, res.Summary)
		fmt.Fprintln(os.Stderr)
	}

	digest := res.Tree + "\n" + res.Content
	if opts.outputPath != "" {
		if err := os.WriteFile(opts.outputPath, []byte(digest+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.outputPath, err)
		}
		if !opts.quiet {
			done(os.Stderr, "✓ wrote %s\n", opts.outputPath)
		}
		return nil
	}

	fmt.Println(digest)
	return nil
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
