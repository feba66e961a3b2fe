// Package config provides the on-disk configuration store for data sources:
// priorities, credentials, and enablement, loaded at startup and mutable at
// runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// fileFormat matches the on-disk config layout: one entry per source under a
// top-level "sources" object.
type fileFormat struct {
	Sources map[model.SourceType]model.ProviderConfig `json:"sources"`
}

// Store holds per-provider configuration. Reads hand out copies so in-flight
// requests see a consistent snapshot even while the store is being mutated.
type Store struct {
	mu       sync.RWMutex
	path     string
	sources  map[model.SourceType]model.ProviderConfig
	validate *validator.Validate
}

// NewStore loads configuration from the given file. When the file is absent
// the documented defaults are materialized (and persisted on first mutation).
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		sources:  Defaults(),
		validate: validator.New(),
	}

	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("No source configuration at %s, using defaults", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read source configuration: %w", err)
	}

	var file fileFormat
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source configuration %s: %w", path, err)
	}

	for source, cfg := range file.Sources {
		cfg.Source = source
		s.sources[source] = cfg
	}
	logrus.WithField("sources", len(file.Sources)).Info("Loaded source configuration")
	return s, nil
}

// Defaults returns the out-of-the-box source map: the spreadsheet source is
// the lowest-priority fallback and needs no credentials, Alpha Vantage is the
// free-tier primary, the rest are secondary/tertiary. API sources stay
// disabled until credentials are supplied via ConfigureSource.
func Defaults() map[model.SourceType]model.ProviderConfig {
	return map[model.SourceType]model.ProviderConfig{
		model.SourceAlphaVantage: {
			Source:           model.SourceAlphaVantage,
			Priority:         1,
			Enabled:          false,
			QualityThreshold: 0.6,
			CacheTTLHours:    24,
			Credentials: &model.Credentials{
				BaseURL:         "https://www.alphavantage.co/query",
				RateLimitCalls:  5,
				RateLimitPeriod: 60,
				Timeout:         10,
				RetryAttempts:   3,
				CostPerCall:     0,
				MonthlyLimit:    500,
				IsActive:        false,
			},
		},
		model.SourceYahooChart: {
			Source:           model.SourceYahooChart,
			Priority:         2,
			Enabled:          false,
			QualityThreshold: 0.5,
			CacheTTLHours:    12,
			Credentials: &model.Credentials{
				BaseURL:         "https://query1.finance.yahoo.com",
				RateLimitCalls:  10,
				RateLimitPeriod: 60,
				Timeout:         10,
				RetryAttempts:   3,
				CostPerCall:     0,
				MonthlyLimit:    2000,
				IsActive:        false,
			},
		},
		model.SourceFMP: {
			Source:           model.SourceFMP,
			Priority:         3,
			Enabled:          false,
			QualityThreshold: 0.6,
			CacheTTLHours:    24,
			Credentials: &model.Credentials{
				BaseURL:         "https://financialmodelingprep.com/api/v3",
				RateLimitCalls:  10,
				RateLimitPeriod: 60,
				Timeout:         10,
				RetryAttempts:   3,
				CostPerCall:     0.002,
				MonthlyLimit:    250,
				IsActive:        false,
			},
		},
		model.SourceSpreadsheet: {
			Source:           model.SourceSpreadsheet,
			Priority:         4,
			Enabled:          true,
			QualityThreshold: 0.3,
			CacheTTLHours:    72,
		},
	}
}

// Get returns a copy of the configuration for one source.
func (s *Store) Get(source model.SourceType) (model.ProviderConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.sources[source]
	if !ok {
		return model.ProviderConfig{}, false
	}
	return copyConfig(cfg), true
}

// All returns a copy of every source configuration.
func (s *Store) All() map[model.SourceType]model.ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.SourceType]model.ProviderConfig, len(s.sources))
	for source, cfg := range s.sources {
		out[source] = copyConfig(cfg)
	}
	return out
}

// EnabledSorted returns a snapshot of all enabled sources sorted ascending by
// priority. Sources sharing a priority ordinal are ordered by source name so
// iteration is deterministic across runs.
func (s *Store) EnabledSorted() []model.ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ProviderConfig, 0, len(s.sources))
	for _, cfg := range s.sources {
		if cfg.Enabled {
			out = append(out, copyConfig(cfg))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Candidate merges an API key and options into the stored configuration for a
// source and validates the result. The returned config is not yet enabled or
// persisted; callers verify provider access first and then Commit.
func (s *Store) Candidate(source model.SourceType, apiKey string, options map[string]interface{}) (model.ProviderConfig, error) {
	s.mu.RLock()
	cfg, ok := s.sources[source]
	s.mu.RUnlock()
	if !ok {
		return model.ProviderConfig{}, fmt.Errorf("unknown source: %s", source)
	}

	cfg = copyConfig(cfg)
	if source == model.SourceSpreadsheet {
		return cfg, nil
	}
	if cfg.Credentials == nil {
		cfg.Credentials = &model.Credentials{}
	}
	cfg.Credentials.APIKey = apiKey
	cfg.Credentials.IsActive = true
	applyOptions(&cfg, options)

	if err := s.validate.Struct(cfg.Credentials); err != nil {
		return model.ProviderConfig{}, fmt.Errorf("invalid credentials for %s: %w", source, err)
	}
	return cfg, nil
}

// Commit enables and stores a validated configuration, then persists the
// whole store to disk.
func (s *Store) Commit(cfg model.ProviderConfig) error {
	s.mu.Lock()
	cfg.Enabled = true
	s.sources[cfg.Source] = cfg
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"source":   cfg.Source,
		"priority": cfg.Priority,
	}).Info("Source configured and enabled")
	return s.Save()
}

// Disable marks a source disabled and persists the change. Used when access
// validation fails for a previously enabled source.
func (s *Store) Disable(source model.SourceType) error {
	s.mu.Lock()
	cfg, ok := s.sources[source]
	if ok {
		cfg.Enabled = false
		s.sources[source] = cfg
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown source: %s", source)
	}
	return s.Save()
}

// Save writes the current configuration to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	file := fileFormat{Sources: make(map[model.SourceType]model.ProviderConfig, len(s.sources))}
	for source, cfg := range s.sources {
		file.Sources[source] = copyConfig(cfg)
	}
	s.mu.RUnlock()

	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal source configuration: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write source configuration: %w", err)
	}
	return nil
}

func applyOptions(cfg *model.ProviderConfig, options map[string]interface{}) {
	for key, value := range options {
		switch key {
		case "priority":
			if v, ok := toInt(value); ok {
				cfg.Priority = v
			}
		case "cache_ttl_hours":
			if v, ok := toInt(value); ok {
				cfg.CacheTTLHours = v
			}
		case "quality_threshold":
			if v, ok := value.(float64); ok {
				cfg.QualityThreshold = v
			}
		case "base_url":
			if v, ok := value.(string); ok && v != "" {
				cfg.Credentials.BaseURL = v
			}
		case "monthly_limit":
			if v, ok := toInt(value); ok {
				cfg.Credentials.MonthlyLimit = v
			}
		case "rate_limit_calls":
			if v, ok := toInt(value); ok {
				cfg.Credentials.RateLimitCalls = v
			}
		case "rate_limit_period":
			if v, ok := toInt(value); ok {
				cfg.Credentials.RateLimitPeriod = v
			}
		case "timeout":
			if v, ok := toInt(value); ok {
				cfg.Credentials.Timeout = v
			}
		case "retry_attempts":
			if v, ok := toInt(value); ok {
				cfg.Credentials.RetryAttempts = v
			}
		case "cost_per_call":
			if v, ok := value.(float64); ok {
				cfg.Credentials.CostPerCall = v
			}
		default:
			logrus.Warnf("Ignoring unknown configuration option %q", key)
		}
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func copyConfig(cfg model.ProviderConfig) model.ProviderConfig {
	out := cfg
	if cfg.Credentials != nil {
		creds := *cfg.Credentials
		out.Credentials = &creds
	}
	return out
}
