package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Filesystem stores entries as JSON envelope files under a single directory.
// Writes go through a temp file and rename so readers never see partial data.
type Filesystem struct {
	dir string
}

func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Filesystem{dir: dir}, nil
}

type fsEnvelope struct {
	ExpiresAt time.Time `json:"expires_at"` // zero means no expiry
	Value     []byte    `json:"value"`
}

func (f *Filesystem) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var env fsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupt entry: drop it and report a miss.
		os.Remove(f.path(key))
		return nil, false, nil
	}
	if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
		os.Remove(f.path(key))
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (f *Filesystem) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := fsEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *Filesystem) Close() error { return nil }

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

// sanitizeKey maps a cache key onto a safe flat filename.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
