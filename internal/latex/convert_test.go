package latex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func fakePandoc(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pandoc")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake pandoc: %v", err)
	}
	return path
}

func bundleFile(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "main.tex")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToMarkdownSuccess(t *testing.T) {
	pandoc := fakePandoc(t, `echo "# Converted"`)
	main := bundleFile(t, map[string]string{"main.tex": `\documentclass{article}`})

	c := NewConverter(pandoc, 10*time.Second, quietLogger())
	got, err := c.ToMarkdown(context.Background(), main)
	if err != nil {
		t.Fatalf("ToMarkdown() error = %v", err)
	}
	if strings.TrimSpace(got) != "# Converted" {
		t.Errorf("ToMarkdown() = %q, want %q", got, "# Converted")
	}
}

func TestToMarkdownRunsInBundleDir(t *testing.T) {
	pandoc := fakePandoc(t, `cat marker.txt`)
	main := bundleFile(t, map[string]string{
		"main.tex":   `\documentclass{article}`,
		"marker.txt": "from bundle dir",
	})

	c := NewConverter(pandoc, 10*time.Second, quietLogger())
	got, err := c.ToMarkdown(context.Background(), main)
	if err != nil {
		t.Fatalf("ToMarkdown() error = %v", err)
	}
	if got != "from bundle dir" {
		t.Errorf("ToMarkdown() = %q, want bundle-relative file contents", got)
	}
}

func TestToMarkdownConversionError(t *testing.T) {
	pandoc := fakePandoc(t, `echo "Error at line 12" >&2; exit 3`)
	main := bundleFile(t, map[string]string{"main.tex": `\documentclass{article}`})

	c := NewConverter(pandoc, 10*time.Second, quietLogger())
	_, err := c.ToMarkdown(context.Background(), main)

	var conv *ConversionError
	if !errors.As(err, &conv) {
		t.Fatalf("ToMarkdown() error = %v, want ConversionError", err)
	}
	if conv.File != "main.tex" {
		t.Errorf("ConversionError.File = %q, want main.tex", conv.File)
	}
	if !strings.Contains(conv.Stderr, "Error at line 12") {
		t.Errorf("ConversionError.Stderr = %q, want pandoc stderr", conv.Stderr)
	}
}

func TestToMarkdownTimeout(t *testing.T) {
	pandoc := fakePandoc(t, `exec sleep 5`)
	main := bundleFile(t, map[string]string{"main.tex": `\documentclass{article}`})

	c := NewConverter(pandoc, 100*time.Millisecond, quietLogger())
	start := time.Now()
	_, err := c.ToMarkdown(context.Background(), main)

	var timeout *ConversionTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("ToMarkdown() error = %v, want ConversionTimeoutError", err)
	}
	if timeout.Timeout != 100*time.Millisecond {
		t.Errorf("ConversionTimeoutError.Timeout = %v, want 100ms", timeout.Timeout)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("conversion ran %v before timing out", elapsed)
	}
}

func TestToMarkdownCanceledContext(t *testing.T) {
	pandoc := fakePandoc(t, `exec sleep 5`)
	main := bundleFile(t, map[string]string{"main.tex": `\documentclass{article}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewConverter(pandoc, 10*time.Second, quietLogger())
	_, err := c.ToMarkdown(ctx, main)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ToMarkdown() error = %v, want context.Canceled", err)
	}
}
