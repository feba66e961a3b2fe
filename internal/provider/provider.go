// Package provider contains one client per market data source, each exposing
// the uniform fetch/validate contract consumed by the unified adapter.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// Provider is the closed interface every data source implements. Fetch never
// propagates expected failures (network, parsing, quota); it converts them
// into a Response with Success=false so the orchestrator can continue its
// fallback chain. ValidateAccess is a cheap probe and must not panic.
type Provider interface {
	Source() model.SourceType
	Fetch(ctx context.Context, req model.DataRequest) model.Response
	ValidateAccess(ctx context.Context) bool
}

// Factory builds a provider from its configuration. The adapter takes a
// Factory so tests can inject fakes.
type Factory func(cfg model.ProviderConfig, dataDir string) (Provider, error)

// New is the default factory, selecting the concrete client by source
// identifier.
func New(cfg model.ProviderConfig, dataDir string) (Provider, error) {
	switch cfg.Source {
	case model.SourceSpreadsheet:
		return NewSpreadsheetProvider(dataDir), nil
	case model.SourceAlphaVantage:
		return NewAlphaVantageClient(cfg)
	case model.SourceYahooChart:
		return NewYahooChartClient(cfg)
	case model.SourceFMP:
		return NewFMPClient(cfg)
	default:
		return nil, fmt.Errorf("unknown source: %s", cfg.Source)
	}
}

// newRetryClient creates an HTTP client whose internal retry loop handles
// connectivity errors, 429s, and 5xx responses with exponential backoff and
// jitter, capped by the configured attempt count.
func newRetryClient(creds *model.Credentials) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil

	if creds != nil {
		if creds.RetryAttempts > 0 {
			rc.RetryMax = creds.RetryAttempts
		}
		if creds.Timeout > 0 {
			rc.HTTPClient.Timeout = time.Duration(creds.Timeout) * time.Second
		}
	}
	return rc.StandardClient()
}

// newLimiter builds the per-provider rate gate from the credential settings.
// Every network call waits on it first, enforcing the minimum inter-call
// interval.
func newLimiter(creds *model.Credentials) *rate.Limiter {
	if creds == nil || creds.RateLimitCalls <= 0 || creds.RateLimitPeriod <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	perSecond := float64(creds.RateLimitCalls) / float64(creds.RateLimitPeriod)
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// finish fills the bookkeeping fields every attempt must carry, success or
// failure.
func finish(resp model.Response, start time.Time, calls int, costPerCall float64) model.Response {
	resp.ResponseTime = time.Since(start)
	resp.APICallsUsed = calls
	resp.CostIncurred = float64(calls) * costPerCall
	return resp
}
