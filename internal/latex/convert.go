package latex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"
)

// Converter runs pandoc over a bundle's main file.
type Converter struct {
	pandocPath string
	timeout    time.Duration
	log        *slog.Logger
}

func NewConverter(pandocPath string, timeout time.Duration, log *slog.Logger) *Converter {
	if pandocPath == "" {
		pandocPath = "pandoc"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Converter{pandocPath: pandocPath, timeout: timeout, log: log}
}

// ToMarkdown converts mainFile to Markdown. The process runs with the
// bundle directory as working directory so \input and \include paths
// resolve. The converter's timeout bounds the run; hitting it kills pandoc.
func (c *Converter) ToMarkdown(ctx context.Context, mainFile string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dir := filepath.Dir(mainFile)
	name := filepath.Base(mainFile)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.pandocPath, name, "-f", "latex", "-t", "markdown", "--wrap=none")
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &ConversionTimeoutError{File: name, Timeout: c.timeout}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ConversionError{File: name, Stderr: excerpt(stderr.String(), 500), Err: err}
	}

	c.log.Debug("pandoc conversion done", "file", name, "duration", time.Since(start))
	return stdout.String(), nil
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ConversionTimeoutError means pandoc was killed for exceeding the budget.
type ConversionTimeoutError struct {
	File    string
	Timeout time.Duration
}

func (e *ConversionTimeoutError) Error() string {
	return fmt.Sprintf("pandoc conversion of %s exceeded %s", e.File, e.Timeout)
}

// ConversionError means pandoc exited nonzero.
type ConversionError struct {
	File   string
	Stderr string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("pandoc conversion of %s failed: %s", e.File, e.Stderr)
}

func (e *ConversionError) Unwrap() error { return e.Err }
