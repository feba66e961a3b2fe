// Package cache provides a TTL cache for normalized market data responses,
// persisted across process restarts.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// DefaultStaleThreshold is the soft-refresh age checked by IsStale. It is
// shorter than typical TTLs; staleness never evicts on its own.
const DefaultStaleThreshold = 6 * time.Hour

// Stats summarizes cache activity for the usage report.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Evicted int64 `json:"evicted"`
}

// Store maps request cache keys to data snapshots with TTL expiry. Expired
// entries are evicted lazily on read and proactively by Cleanup.
type Store struct {
	mu             sync.Mutex
	path           string
	entries        map[string]model.CacheEntry
	staleThreshold time.Duration
	now            func() time.Time

	hits    int64
	misses  int64
	evicted int64
}

// NewStore creates a store backed by the given cache file. Entries already
// expired at load time are discarded.
func NewStore(path string) *Store {
	s := &Store{
		path:           path,
		entries:        make(map[string]model.CacheEntry),
		staleThreshold: DefaultStaleThreshold,
		now:            time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.Warnf("Failed to read cache file: %v", err)
		}
		return
	}

	loaded := make(map[string]model.CacheEntry)
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logrus.Warnf("Failed to parse cache file %s: %v", s.path, err)
		return
	}

	now := s.now()
	kept := 0
	for key, entry := range loaded {
		if entry.IsExpired(now) {
			continue
		}
		s.entries[key] = entry
		kept++
	}
	logrus.WithFields(logrus.Fields{
		"loaded":    kept,
		"discarded": len(loaded) - kept,
	}).Debug("Cache loaded from disk")
}

// Get returns the entry for the key if present and not expired. Reading an
// expired entry evicts it.
func (s *Store) Get(key string) (model.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return model.CacheEntry{}, false
	}
	if entry.IsExpired(s.now()) {
		delete(s.entries, key)
		s.evicted++
		s.misses++
		return model.CacheEntry{}, false
	}
	s.hits++
	// Hand out a copy so callers cannot mutate the stored snapshot.
	entry.Data = copyData(entry.Data)
	return entry, true
}

// Put stores a snapshot for the key, overwriting any previous entry. The data
// map is copied so later caller-side mutation does not reach the cache.
func (s *Store) Put(key string, data map[string]interface{}, source model.SourceType, qualityScore float64, ttlHours int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = model.CacheEntry{
		Data:         copyData(data),
		Timestamp:    s.now(),
		Source:       source,
		QualityScore: qualityScore,
		TTLHours:     ttlHours,
	}
}

// IsStale reports whether the entry for the key is older than the soft-refresh
// threshold. A missing or expired entry is stale.
func (s *Store) IsStale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return true
	}
	now := s.now()
	return entry.IsExpired(now) || entry.IsStale(now, s.staleThreshold)
}

// Cleanup proactively evicts all expired entries and returns how many were
// removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.IsExpired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.evicted += int64(removed)
	if removed > 0 {
		logrus.WithField("removed", removed).Debug("Cache cleanup evicted expired entries")
	}
	return removed
}

// Flush persists all non-expired entries to disk. Safe to call multiple times.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	now := s.now()
	live := make(map[string]model.CacheEntry, len(s.entries))
	for key, entry := range s.entries {
		if !entry.IsExpired(now) {
			live[key] = entry
		}
	}

	raw, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// Stats returns a snapshot of cache activity counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries: len(s.entries),
		Hits:    s.hits,
		Misses:  s.misses,
		Evicted: s.evicted,
	}
}
