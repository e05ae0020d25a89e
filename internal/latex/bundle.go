// Package latex turns arXiv e-print source bundles into Markdown via pandoc.
package latex

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Extraction stops once a bundle inflates past this. Papers are nowhere near;
// a zip bomb is.
const maxExtractedBytes = 200 << 20

// SourceUnavailableError means the e-print bundle cannot yield LaTeX source:
// unrecognized archive format, or no .tex files inside.
type SourceUnavailableError struct {
	Reason string
}

func (e *SourceUnavailableError) Error() string {
	return "latex source unavailable: " + e.Reason
}

// ExtractBundle unpacks an e-print bundle into destDir. arXiv serves three
// shapes: a tar.gz of the whole submission, a gzipped single .tex file, or
// (rarely) a bare LaTeX file. Entries with absolute or parent-traversing
// paths are skipped, as is anything that is not a plain file or directory.
func ExtractBundle(data []byte, destDir string) error {
	if err := extractTarGz(data, destDir); err == nil {
		return nil
	}
	if err := extractGzipFile(data, destDir); err == nil {
		return nil
	}
	if utf8.Valid(data) {
		text := string(data)
		if strings.Contains(text, `\documentclass`) || strings.Contains(text, `\begin{document}`) {
			return os.WriteFile(filepath.Join(destDir, "main.tex"), data, 0o644)
		}
	}
	return &SourceUnavailableError{Reason: "bundle is not tar.gz, gzip, or plain LaTeX"}
}

func extractTarGz(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var total int64
	extracted := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A gzipped single file lands here on the first header read;
			// the caller falls through to plain-gzip handling.
			if !extracted {
				return err
			}
			return nil
		}
		if !safeEntryName(hdr.Name) {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, io.LimitReader(tr, maxExtractedBytes-total))
			f.Close()
			if err != nil {
				return err
			}
			total += n
			if total >= maxExtractedBytes {
				return fmt.Errorf("bundle exceeds %d bytes extracted", int64(maxExtractedBytes))
			}
			extracted = true
		}
	}
	// An archive that parsed but held no regular files leaves an empty
	// directory; main-file selection reports that case.
	return nil
}

func extractGzipFile(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()

	content, err := io.ReadAll(io.LimitReader(gz, maxExtractedBytes))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destDir, "main.tex"), content, 0o644)
}

func safeEntryName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	return !strings.Contains(name, "..")
}

// MainFile picks the main .tex file from an extracted bundle, mirroring how
// arXiv's own build picks one: the first file declaring a documentclass,
// then ms.tex by convention, then the alphabetically first .tex file.
func MainFile(sourceDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(sourceDir, "*.tex"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", &SourceUnavailableError{Reason: "no .tex files in bundle"}
	}
	sort.Strings(matches)

	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if bytes.Contains(content, []byte(`\documentclass`)) {
			return path, nil
		}
	}

	ms := filepath.Join(sourceDir, "ms.tex")
	if _, err := os.Stat(ms); err == nil {
		return ms, nil
	}

	return matches[0], nil
}
