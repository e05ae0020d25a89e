// Package digest keeps rendered ingest outputs available for download.
package digest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	body      string
	createdAt time.Time
}

// Store is a thread-safe in-memory digest registry with TTL eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// Put stores body under a fresh id and returns the id.
func (s *Store) Put(body string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{body: body, createdAt: time.Now()}
	return id
}

// Get returns the stored body. Expired entries miss even before the
// janitor collects them.
func (s *Store) Get(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || time.Since(e.createdAt) > s.ttl {
		return "", false
	}
	return e.body, true
}

// Len reports how many digests are held, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cleanup removes expired digests.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}

// Start launches the eviction janitor.
func (s *Store) Start(ctx context.Context) {
	janitorCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
