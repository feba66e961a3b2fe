// Package model defines the core data structures for the fundamentals-ea.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceType identifies a market data source. The set of sources is closed;
// provider construction switches over these values.
type SourceType string

// Supported data sources
const (
	SourceSpreadsheet  SourceType = "spreadsheet"
	SourceAlphaVantage SourceType = "alpha_vantage"
	SourceYahooChart   SourceType = "yahoo_chart"
	SourceFMP          SourceType = "fmp"
)

// Data type tags a caller can request
const (
	DataTypePrice        = "price"
	DataTypeFundamentals = "fundamentals"
	DataTypeCashFlow     = "cash_flow"
	DataTypeDividends    = "dividends"
)

// Normalized field names shared by every provider. Each provider maps its own
// response schema onto these keys so the calculation layer never sees
// provider-specific naming.
const (
	FieldCurrentPrice        = "current_price"
	FieldMarketCap           = "market_cap"
	FieldSharesOutstanding   = "shares_outstanding"
	FieldCurrency            = "currency"
	FieldCompanyName         = "company_name"
	FieldPERatio             = "pe_ratio"
	FieldEPS                 = "eps"
	FieldBookValue           = "book_value"
	FieldDividendPerShare    = "dividend_per_share"
	FieldOperatingCashFlow   = "operating_cash_flow"
	FieldCapitalExpenditures = "capital_expenditures"
	FieldFreeCashFlow        = "free_cash_flow"
	FieldLastUpdated         = "last_updated"
)

// DataRequest is an immutable description of one data fetch. Build it with
// NewDataRequest so the ticker is normalized before the cache key is derived.
type DataRequest struct {
	// Ticker symbol, uppercase-normalized
	Ticker string `json:"ticker"`

	// Requested data type tags, e.g. "price", "fundamentals"
	DataTypes []string `json:"data_types"`

	// Period granularity, e.g. "annual" or "quarterly"
	Period string `json:"period"`

	// Maximum number of statement periods to return
	Limit int `json:"limit"`

	// ForceRefresh bypasses the cache for this request
	ForceRefresh bool `json:"force_refresh"`
}

// NewDataRequest builds a request with a normalized ticker.
func NewDataRequest(ticker string, dataTypes []string, forceRefresh bool) DataRequest {
	return DataRequest{
		Ticker:       strings.ToUpper(strings.TrimSpace(ticker)),
		DataTypes:    dataTypes,
		Period:       "annual",
		Limit:        5,
		ForceRefresh: forceRefresh,
	}
}

// CacheKey derives the deterministic cache key for this request: a pure
// function of (ticker, sorted data types, period, limit). Identical semantic
// requests collide to the same 32-hex-char key regardless of input order.
func (r DataRequest) CacheKey() string {
	types := make([]string, 0, len(r.DataTypes))
	seen := make(map[string]struct{}, len(r.DataTypes))
	for _, dt := range r.DataTypes {
		dt = strings.ToLower(strings.TrimSpace(dt))
		if _, dup := seen[dt]; dup || dt == "" {
			continue
		}
		seen[dt] = struct{}{}
		types = append(types, dt)
	}
	sort.Strings(types)

	payload := fmt.Sprintf("%s|%s|%s|%d",
		strings.ToUpper(strings.TrimSpace(r.Ticker)),
		strings.Join(types, ","),
		r.Period,
		r.Limit,
	)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// QualityMetrics holds the component scores for one normalized response.
// Each component is in [0, 1]. Computed fresh per response, never persisted
// independently of it.
type QualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Timeliness   float64 `json:"timeliness"`
	Consistency  float64 `json:"consistency"`
}

// Component weights for the overall score
const (
	weightCompleteness = 0.3
	weightAccuracy     = 0.3
	weightTimeliness   = 0.2
	weightConsistency  = 0.2
)

// Overall returns the weighted combination of the component scores.
func (q QualityMetrics) Overall() float64 {
	return q.Completeness*weightCompleteness +
		q.Accuracy*weightAccuracy +
		q.Timeliness*weightTimeliness +
		q.Consistency*weightConsistency
}

// Response is the result of one provider attempt (or a cache hit). Expected
// failure modes are carried in ErrorMessage with Success=false; providers never
// propagate errors across this boundary.
type Response struct {
	Success bool `json:"success"`

	// Normalized data keyed by the Field* constants
	Data map[string]interface{} `json:"data,omitempty"`

	// Source that produced the data
	Source SourceType `json:"source,omitempty"`

	Quality QualityMetrics `json:"quality"`

	// QualityScore is the overall weighted score; for cache hits it carries
	// the score stored with the entry.
	QualityScore float64 `json:"quality_score"`

	ErrorMessage string `json:"error_message,omitempty"`

	ResponseTime time.Duration `json:"response_time"`

	// Underlying API calls consumed by this attempt
	APICallsUsed int `json:"api_calls_used"`

	// CostIncurred = calls * cost_per_call, recorded even on partial failure
	CostIncurred float64 `json:"cost_incurred"`

	CacheHit bool `json:"cache_hit"`
}

// Failure builds a failed response with the given message.
func Failure(source SourceType, msg string) Response {
	return Response{
		Success:      false,
		Source:       source,
		ErrorMessage: msg,
	}
}

// CacheEntry is a cached data snapshot owned by the cache store, keyed by
// request hash.
type CacheEntry struct {
	Data         map[string]interface{} `json:"data"`
	Timestamp    time.Time              `json:"timestamp"`
	Source       SourceType             `json:"source_type"`
	QualityScore float64                `json:"quality_score"`
	TTLHours     int                    `json:"ttl_hours"`
}

// IsExpired reports whether the entry's TTL has elapsed at the given time.
// An entry with TTLHours <= 0 is always expired.
func (e CacheEntry) IsExpired(now time.Time) bool {
	return now.Sub(e.Timestamp) > time.Duration(e.TTLHours)*time.Hour
}

// IsStale reports whether the entry is older than the soft-refresh threshold.
// Staleness is advisory; a stale entry is still served until it expires.
func (e CacheEntry) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(e.Timestamp) > threshold
}

// UsageStatistics tracks per-provider call counters and cost. The monthly pair
// resets when the wall-clock month changes relative to LastUsed.
type UsageStatistics struct {
	TotalCalls      int     `json:"total_calls"`
	TotalCost       float64 `json:"total_cost"`
	SuccessfulCalls int     `json:"successful_calls"`
	FailedCalls     int     `json:"failed_calls"`

	// Running mean of response time in seconds
	AverageResponseTime float64 `json:"average_response_time"`

	MonthlyCalls int       `json:"monthly_calls"`
	MonthlyCost  float64   `json:"monthly_cost"`
	LastUsed     time.Time `json:"last_used"`
}

// Credentials holds API access settings for one provider. Owned exclusively by
// its ProviderConfig.
type Credentials struct {
	APIKey  string `json:"api_key" validate:"required"`
	BaseURL string `json:"base_url" validate:"required,url"`

	// Rate limit: RateLimitCalls per RateLimitPeriod seconds
	RateLimitCalls  int `json:"rate_limit_calls" validate:"gte=1"`
	RateLimitPeriod int `json:"rate_limit_period" validate:"gte=1"`

	// Per-call timeout in seconds
	Timeout int `json:"timeout" validate:"gte=1"`

	RetryAttempts int     `json:"retry_attempts" validate:"gte=0"`
	CostPerCall   float64 `json:"cost_per_call" validate:"gte=0"`
	MonthlyLimit  int     `json:"monthly_limit" validate:"gte=0"`
	IsActive      bool    `json:"is_active"`
}

// ProviderConfig holds per-provider settings from the configuration store.
type ProviderConfig struct {
	// Source identifier; populated from the config map key
	Source SourceType `json:"-"`

	// Priority ordinal, lower = tried first
	Priority int `json:"priority"`

	Enabled bool `json:"is_enabled"`

	// Minimum acceptable quality score. Advisory metadata only: the fallback
	// loop does not reject responses below it.
	QualityThreshold float64 `json:"quality_threshold"`

	CacheTTLHours int `json:"cache_ttl_hours"`

	// Omitted for sources needing none (spreadsheet)
	Credentials *Credentials `json:"credentials,omitempty"`
}
