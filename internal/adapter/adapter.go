// Package adapter orchestrates the data acquisition pipeline: cache lookup,
// priority-ordered provider fallback, quality scoring, and usage accounting
// behind one mutex.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/fundamentals-ea/internal/cache"
	"github.com/yourorg/fundamentals-ea/internal/config"
	"github.com/yourorg/fundamentals-ea/internal/model"
	"github.com/yourorg/fundamentals-ea/internal/otel"
	"github.com/yourorg/fundamentals-ea/internal/provider"
	"github.com/yourorg/fundamentals-ea/internal/quality"
	"github.com/yourorg/fundamentals-ea/internal/usage"
)

// adapterMetrics holds Prometheus metrics for the acquisition pipeline.
type adapterMetrics struct {
	fetchCounter    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	cacheHits       prometheus.Counter
	qualityScore    *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *adapterMetrics {
	m := &adapterMetrics{
		fetchCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundamentals_fetch_requests_total",
				Help: "Total number of fetch requests processed",
			},
			[]string{"status", "source"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundamentals_fetch_duration_seconds",
				Help:    "Fetch request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundamentals_provider_errors_total",
				Help: "Total number of provider attempt failures",
			},
			[]string{"provider"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fundamentals_cache_hits_total",
				Help: "Total number of requests served from cache",
			},
		),
		qualityScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundamentals_quality_score",
				Help: "Quality score of the most recent response per source",
			},
			[]string{"source"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.fetchCounter,
			m.fetchDuration,
			m.providerErrors,
			m.cacheHits,
			m.qualityScore,
		)
	}
	return m
}

// Options tunes adapter construction. The zero value gives the production
// wiring with metrics registration disabled.
type Options struct {
	// Factory builds providers; defaults to provider.New
	Factory provider.Factory

	// DataDir is the spreadsheet data directory
	DataDir string

	// GlobalTimeout bounds one whole FetchData call across all fallback
	// attempts; zero means no bound beyond the caller's context
	GlobalTimeout time.Duration

	// Registerer receives the adapter's Prometheus metrics; nil disables
	// registration (the metrics still exist, unexported)
	Registerer prometheus.Registerer
}

// UnifiedAdapter is the single entry point for market data. All public
// methods are safe for concurrent use; FetchData serializes callers so the
// fallback chain and its usage accounting run without interleaving.
type UnifiedAdapter struct {
	mu sync.Mutex

	configs *config.Store
	cache   *cache.Store
	usage   *usage.Tracker

	factory       provider.Factory
	dataDir       string
	globalTimeout time.Duration

	// Constructed provider instances, invalidated on reconfiguration
	providers map[model.SourceType]provider.Provider

	metrics *adapterMetrics
	tracer  trace.Tracer
}

// New wires the adapter from its collaborating stores.
func New(configs *config.Store, cacheStore *cache.Store, tracker *usage.Tracker, opts Options) *UnifiedAdapter {
	factory := opts.Factory
	if factory == nil {
		factory = provider.New
	}
	return &UnifiedAdapter{
		configs:       configs,
		cache:         cacheStore,
		usage:         tracker,
		factory:       factory,
		dataDir:       opts.DataDir,
		globalTimeout: opts.GlobalTimeout,
		providers:     make(map[model.SourceType]provider.Provider),
		metrics:       newMetrics(opts.Registerer),
		tracer:        otel.Tracer(),
	}
}

// FetchData resolves one data request: cache first, then every enabled,
// quota-eligible source in priority order until one succeeds. The first
// success wins; quality scores below a source's threshold are logged but do
// not trigger further fallback.
func (a *UnifiedAdapter) FetchData(ctx context.Context, req model.DataRequest) model.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.globalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.globalTimeout)
		defer cancel()
	}

	ctx, span := a.tracer.Start(ctx, "FetchData", trace.WithAttributes(
		attribute.String("ticker", req.Ticker),
		attribute.String("data_types", strings.Join(req.DataTypes, ",")),
	))
	defer span.End()

	start := time.Now()
	key := req.CacheKey()

	if !req.ForceRefresh {
		if entry, ok := a.cache.Get(key); ok {
			a.metrics.cacheHits.Inc()
			a.metrics.fetchCounter.WithLabelValues("hit", string(entry.Source)).Inc()
			a.metrics.fetchDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())
			span.SetAttributes(attribute.Bool("cache_hit", true))

			logrus.WithFields(logrus.Fields{
				"ticker": req.Ticker,
				"source": entry.Source,
			}).Debug("Cache hit")

			return model.Response{
				Success:      true,
				Data:         entry.Data,
				Source:       entry.Source,
				QualityScore: entry.QualityScore,
				ResponseTime: time.Since(start),
				CacheHit:     true,
			}
		}
	}

	var failures []string
	for _, cfg := range a.configs.EnabledSorted() {
		if !a.usage.CanUse(cfg) {
			logrus.WithField("source", cfg.Source).Debug("Skipping source: quota exhausted or inactive credentials")
			continue
		}

		p, err := a.providerFor(cfg)
		if err != nil {
			logrus.WithError(err).WithField("source", cfg.Source).Warn("Failed to construct provider")
			failures = append(failures, fmt.Sprintf("%s: %v", cfg.Source, err))
			continue
		}

		resp := p.Fetch(ctx, req)
		a.usage.RecordAttempt(cfg.Source, resp)

		if !resp.Success {
			a.metrics.providerErrors.WithLabelValues(string(cfg.Source)).Inc()
			logrus.WithFields(logrus.Fields{
				"source": cfg.Source,
				"ticker": req.Ticker,
				"error":  resp.ErrorMessage,
			}).Warn("Provider attempt failed, trying next source")
			failures = append(failures, fmt.Sprintf("%s: %s", cfg.Source, resp.ErrorMessage))
			continue
		}

		resp.Quality = quality.Score(resp.Data)
		resp.QualityScore = resp.Quality.Overall()
		a.metrics.qualityScore.WithLabelValues(string(cfg.Source)).Set(resp.QualityScore)

		if resp.QualityScore < cfg.QualityThreshold {
			logrus.WithFields(logrus.Fields{
				"source":    cfg.Source,
				"ticker":    req.Ticker,
				"score":     resp.QualityScore,
				"threshold": cfg.QualityThreshold,
			}).Warn("Response quality below source threshold")
		}

		a.cache.Put(key, resp.Data, cfg.Source, resp.QualityScore, cfg.CacheTTLHours)

		a.metrics.fetchCounter.WithLabelValues("success", string(cfg.Source)).Inc()
		a.metrics.fetchDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("source", string(cfg.Source)))

		logrus.WithFields(logrus.Fields{
			"ticker":  req.Ticker,
			"source":  cfg.Source,
			"score":   resp.QualityScore,
			"elapsed": time.Since(start),
		}).Info("Data fetched")

		resp.ResponseTime = time.Since(start)
		return resp
	}

	a.metrics.fetchCounter.WithLabelValues("failure", "none").Inc()
	a.metrics.fetchDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())

	msg := fmt.Sprintf("all sources failed for %s", req.Ticker)
	if len(failures) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(failures, "; "))
	}
	logrus.WithField("ticker", req.Ticker).Error(msg)
	otel.RecordError(ctx, errors.New(msg))

	failure := model.Failure("", msg)
	failure.ResponseTime = time.Since(start)
	return failure
}

// providerFor returns the cached provider instance for a source, constructing
// it on first use.
func (a *UnifiedAdapter) providerFor(cfg model.ProviderConfig) (provider.Provider, error) {
	if p, ok := a.providers[cfg.Source]; ok {
		return p, nil
	}
	p, err := a.factory(cfg, a.dataDir)
	if err != nil {
		return nil, err
	}
	a.providers[cfg.Source] = p
	return p, nil
}

// ConfigureSource merges an API key and options into a source's
// configuration, verifies access with the resulting provider, and only then
// enables and persists it. A failed verification leaves a disabled source
// untouched; a source that was already enabled is disabled, since its stored
// credentials evidently no longer grant access.
func (a *UnifiedAdapter) ConfigureSource(ctx context.Context, source model.SourceType, apiKey string, options map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, err := a.configs.Candidate(source, apiKey, options)
	if err != nil {
		return err
	}

	p, err := a.factory(cfg, a.dataDir)
	if err != nil {
		return fmt.Errorf("failed to construct provider for %s: %w", source, err)
	}
	if !p.ValidateAccess(ctx) {
		if current, ok := a.configs.Get(source); ok && current.Enabled {
			if derr := a.configs.Disable(source); derr != nil {
				logrus.WithError(derr).WithField("source", source).Warn("Failed to disable source after access loss")
			}
			delete(a.providers, source)
		}
		return fmt.Errorf("access validation failed for %s: check the API key", source)
	}

	if err := a.configs.Commit(cfg); err != nil {
		return err
	}
	// Drop any stale instance built from the previous configuration.
	a.providers[source] = p
	return nil
}

// UsageReport aggregates per-source statistics, overall and current-month
// totals, and cache activity for the reporting endpoint.
type UsageReport struct {
	Sources      map[model.SourceType]model.UsageStatistics `json:"sources"`
	TotalCalls   int                                        `json:"total_calls"`
	TotalCost    float64                                    `json:"total_cost"`
	MonthlyCalls int                                        `json:"monthly_calls"`
	MonthlyCost  float64                                    `json:"monthly_cost"`
	Cache        cache.Stats                                `json:"cache"`
}

// GetUsageReport returns a snapshot of usage and cache statistics.
func (a *UnifiedAdapter) GetUsageReport() UsageReport {
	stats := a.usage.Snapshot()
	report := UsageReport{
		Sources: stats,
		Cache:   a.cache.Stats(),
	}
	for _, s := range stats {
		report.TotalCalls += s.TotalCalls
		report.TotalCost += s.TotalCost
		report.MonthlyCalls += s.MonthlyCalls
		report.MonthlyCost += s.MonthlyCost
	}
	return report
}

// Cleanup evicts expired cache entries and persists both the cache and the
// usage statistics. Safe to call multiple times; later calls are no-ops when
// nothing changed.
func (a *UnifiedAdapter) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := a.cache.Cleanup()
	if removed > 0 {
		logrus.WithField("removed", removed).Info("Evicted expired cache entries")
	}

	if err := a.cache.Flush(); err != nil {
		return fmt.Errorf("failed to persist cache: %w", err)
	}
	if err := a.usage.Flush(); err != nil {
		return fmt.Errorf("failed to persist usage statistics: %w", err)
	}
	return nil
}
