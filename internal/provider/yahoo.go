package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// YahooChartClient reads quote metadata from the unauthenticated Yahoo
// Finance chart endpoint. It only serves price data; fundamentals requests
// fall through to other sources.
type YahooChartClient struct {
	baseURL     string
	costPerCall float64
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewYahooChartClient creates a client from the provider configuration.
func NewYahooChartClient(cfg model.ProviderConfig) (*YahooChartClient, error) {
	creds := cfg.Credentials
	if creds == nil {
		return nil, fmt.Errorf("yahoo_chart requires credentials")
	}
	return &YahooChartClient{
		baseURL:     creds.BaseURL,
		costPerCall: creds.CostPerCall,
		httpClient:  newRetryClient(creds),
		limiter:     newLimiter(creds),
	}, nil
}

func (c *YahooChartClient) Source() model.SourceType { return model.SourceYahooChart }

// ValidateAccess probes the chart endpoint with a liquid ticker.
func (c *YahooChartClient) ValidateAccess(ctx context.Context) bool {
	meta, err := c.fetchMeta(ctx, "AAPL")
	if err != nil {
		logrus.WithError(err).Debug("Yahoo chart access validation failed")
		return false
	}
	return len(meta) > 0
}

// Fetch retrieves chart metadata for the ticker. Requests that only need
// fundamentals, cash flow, or dividends fail immediately because the chart
// endpoint cannot serve them.
func (c *YahooChartClient) Fetch(ctx context.Context, req model.DataRequest) model.Response {
	start := time.Now()

	if !wantsPrice(req) {
		return finish(model.Failure(c.Source(), "yahoo_chart serves price data only"), start, 0, 0)
	}

	meta, err := c.fetchMeta(ctx, req.Ticker)
	if err != nil {
		return finish(model.Failure(c.Source(), fmt.Sprintf("yahoo_chart fetch failed for %s: %v", req.Ticker, err)),
			start, 1, c.costPerCall)
	}

	data := normalizeFields(meta, yahooChartAliases)
	if requestedPriceMissing(req, data) {
		return finish(model.Failure(c.Source(), fmt.Sprintf("yahoo_chart returned no price for %s", req.Ticker)),
			start, 1, c.costPerCall)
	}

	return finish(model.Response{Success: true, Source: c.Source(), Data: data}, start, 1, c.costPerCall)
}

// fetchMeta calls /{ticker} under the configured base URL and returns the
// chart.result[0].meta object.
func (c *YahooChartClient) fetchMeta(ctx context.Context, ticker string) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s?interval=1d&range=1d", c.baseURL, ticker)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Yahoo rejects requests without a browser-like user agent.
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; fundamentals-ea/1.0)")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Chart struct {
			Result []struct {
				Meta map[string]interface{} `json:"meta"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Chart.Error != nil {
		return nil, fmt.Errorf("provider error %s: %s", decoded.Chart.Error.Code, decoded.Chart.Error.Description)
	}
	if len(decoded.Chart.Result) == 0 || decoded.Chart.Result[0].Meta == nil {
		return nil, fmt.Errorf("empty chart result for %s", ticker)
	}
	return decoded.Chart.Result[0].Meta, nil
}

func wantsPrice(req model.DataRequest) bool {
	for _, dt := range req.DataTypes {
		if dt == model.DataTypePrice {
			return true
		}
	}
	return false
}
