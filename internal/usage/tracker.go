// Package usage tracks per-provider call counters, cost accumulation, and
// monthly quota enforcement.
package usage

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

// Tracker accumulates usage statistics per data source. Statistics are
// persisted to a JSON file on Flush and reloaded at construction.
type Tracker struct {
	mu    sync.Mutex
	path  string
	stats map[model.SourceType]*model.UsageStatistics
	now   func() time.Time
}

// NewTracker creates a tracker backed by the given statistics file. A missing
// or unreadable file starts the tracker empty.
func NewTracker(path string) *Tracker {
	t := &Tracker{
		path:  path,
		stats: make(map[model.SourceType]*model.UsageStatistics),
		now:   time.Now,
	}
	t.load()
	return t
}

func (t *Tracker) load() {
	if t.path == "" {
		return
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.Warnf("Failed to read usage statistics file: %v", err)
		}
		return
	}

	loaded := make(map[model.SourceType]*model.UsageStatistics)
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logrus.Warnf("Failed to parse usage statistics file %s: %v", t.path, err)
		return
	}
	t.stats = loaded
	logrus.WithField("sources", len(loaded)).Debug("Loaded usage statistics")
}

// RecordAttempt updates counters for one provider attempt, success or failure.
// When the wall-clock month has changed since LastUsed, the monthly counters
// roll over: the new attempt counts as call #1 of the new month.
func (t *Tracker) RecordAttempt(source model.SourceType, resp model.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s, ok := t.stats[source]
	if !ok {
		s = &model.UsageStatistics{}
		t.stats[source] = s
	}

	if !sameMonth(s.LastUsed, now) {
		s.MonthlyCalls = 0
		s.MonthlyCost = 0
	}

	s.TotalCalls++
	s.MonthlyCalls++
	if resp.Success {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
	}

	s.TotalCost += resp.CostIncurred
	s.MonthlyCost += resp.CostIncurred

	// Running mean over all attempts
	sample := resp.ResponseTime.Seconds()
	n := float64(s.TotalCalls)
	s.AverageResponseTime = (s.AverageResponseTime*(n-1) + sample) / n

	s.LastUsed = now
}

// CanUse reports whether a provider may be attempted without blowing its
// quota. The spreadsheet source is exempt from credential and quota checks.
// Returns false when credentials are missing or inactive, or the monthly call
// count has reached the configured limit.
func (t *Tracker) CanUse(cfg model.ProviderConfig) bool {
	if cfg.Source == model.SourceSpreadsheet {
		return true
	}
	if cfg.Credentials == nil || !cfg.Credentials.IsActive {
		return false
	}
	if cfg.Credentials.MonthlyLimit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[cfg.Source]
	if !ok {
		return true
	}
	// A stale month means the counter would roll over on the next attempt.
	if !sameMonth(s.LastUsed, t.now()) {
		return true
	}
	return s.MonthlyCalls < cfg.Credentials.MonthlyLimit
}

// Snapshot returns a copy of the current statistics for reporting.
func (t *Tracker) Snapshot() map[model.SourceType]model.UsageStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[model.SourceType]model.UsageStatistics, len(t.stats))
	for source, s := range t.stats {
		out[source] = *s
	}
	return out
}

// Flush persists the statistics to disk. Safe to call multiple times.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(t.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage statistics: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create usage statistics directory: %w", err)
		}
	}
	if err := os.WriteFile(t.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write usage statistics: %w", err)
	}
	return nil
}

func sameMonth(a, b time.Time) bool {
	if a.IsZero() {
		return true
	}
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}
