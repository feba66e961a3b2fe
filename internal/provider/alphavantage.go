package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// AlphaVantageClient fetches quotes, company overviews, and cash-flow
// statements from the Alpha Vantage REST API.
type AlphaVantageClient struct {
	baseURL     string
	apiKey      string
	costPerCall float64
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewAlphaVantageClient creates a client from the provider configuration.
func NewAlphaVantageClient(cfg model.ProviderConfig) (*AlphaVantageClient, error) {
	creds := cfg.Credentials
	if creds == nil {
		return nil, fmt.Errorf("alpha_vantage requires credentials")
	}
	return &AlphaVantageClient{
		baseURL:     creds.BaseURL,
		apiKey:      creds.APIKey,
		costPerCall: creds.CostPerCall,
		httpClient:  newRetryClient(creds),
		limiter:     newLimiter(creds),
	}, nil
}

func (c *AlphaVantageClient) Source() model.SourceType { return model.SourceAlphaVantage }

// ValidateAccess probes the API with a single lightweight quote call. Any
// failure is converted to false.
func (c *AlphaVantageClient) ValidateAccess(ctx context.Context) bool {
	raw, err := c.call(ctx, map[string]string{"function": "GLOBAL_QUOTE", "symbol": "IBM"})
	if err != nil {
		logrus.WithError(err).Debug("Alpha Vantage access validation failed")
		return false
	}
	_, ok := raw["Global Quote"]
	return ok
}

// Fetch retrieves the requested data types, one underlying API call per
// section, and normalizes the result into the common schema.
func (c *AlphaVantageClient) Fetch(ctx context.Context, req model.DataRequest) model.Response {
	start := time.Now()
	calls := 0
	raw := make(map[string]interface{})

	overviewLoaded := false
	for _, dt := range req.DataTypes {
		var err error
		switch dt {
		case model.DataTypePrice:
			calls++
			err = c.fetchQuote(ctx, req.Ticker, raw)
		case model.DataTypeFundamentals, model.DataTypeDividends:
			if overviewLoaded {
				continue
			}
			calls++
			err = c.fetchOverview(ctx, req.Ticker, raw)
			overviewLoaded = err == nil
		case model.DataTypeCashFlow:
			calls++
			err = c.fetchCashFlow(ctx, req.Ticker, req.Limit, raw)
		default:
			logrus.Warnf("Alpha Vantage ignoring unknown data type %q", dt)
		}
		if err != nil {
			return finish(model.Failure(c.Source(), fmt.Sprintf("alpha_vantage %s fetch failed: %v", dt, err)),
				start, calls, c.costPerCall)
		}
	}

	data := normalizeFields(raw, alphaVantageAliases)
	if requestedPriceMissing(req, data) {
		return finish(model.Failure(c.Source(), fmt.Sprintf("alpha_vantage returned no price for %s", req.Ticker)),
			start, calls, c.costPerCall)
	}
	deriveFCF(data)

	resp := model.Response{Success: true, Source: c.Source(), Data: data}
	return finish(resp, start, calls, c.costPerCall)
}

func (c *AlphaVantageClient) fetchQuote(ctx context.Context, ticker string, raw map[string]interface{}) error {
	body, err := c.call(ctx, map[string]string{"function": "GLOBAL_QUOTE", "symbol": ticker})
	if err != nil {
		return err
	}
	quote, ok := body["Global Quote"].(map[string]interface{})
	if !ok || len(quote) == 0 {
		return fmt.Errorf("no quote in response for %s", ticker)
	}
	mergeRaw(raw, quote)
	return nil
}

func (c *AlphaVantageClient) fetchOverview(ctx context.Context, ticker string, raw map[string]interface{}) error {
	body, err := c.call(ctx, map[string]string{"function": "OVERVIEW", "symbol": ticker})
	if err != nil {
		return err
	}
	if _, ok := body["Symbol"]; !ok {
		return fmt.Errorf("no overview in response for %s", ticker)
	}
	mergeRaw(raw, body)
	return nil
}

func (c *AlphaVantageClient) fetchCashFlow(ctx context.Context, ticker string, limit int, raw map[string]interface{}) error {
	body, err := c.call(ctx, map[string]string{"function": "CASH_FLOW", "symbol": ticker})
	if err != nil {
		return err
	}
	reports, ok := body["annualReports"].([]interface{})
	if !ok || len(reports) == 0 {
		return fmt.Errorf("no cash flow reports for %s", ticker)
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	// The most recent report carries the fields used for FCF derivation.
	if latest, ok := reports[0].(map[string]interface{}); ok {
		mergeRaw(raw, latest)
	}
	return nil
}

// call performs one rate-limited, retried GET against the API and decodes the
// JSON body. Alpha Vantage signals throttling with a 200-status "Note" body,
// which is treated as an error.
func (c *AlphaVantageClient) call(ctx context.Context, params map[string]string) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("apikey", c.apiKey)

	reqURL := c.baseURL + "?" + values.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if note, ok := decoded["Note"].(string); ok {
		return nil, fmt.Errorf("rate limited by provider: %s", note)
	}
	if msg, ok := decoded["Error Message"].(string); ok {
		return nil, fmt.Errorf("provider error: %s", msg)
	}
	return decoded, nil
}

func mergeRaw(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}
