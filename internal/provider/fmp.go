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

// FMPClient fetches company profiles and cash-flow statements from the
// Financial Modeling Prep REST API.
type FMPClient struct {
	baseURL     string
	apiKey      string
	costPerCall float64
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewFMPClient creates a client from the provider configuration.
func NewFMPClient(cfg model.ProviderConfig) (*FMPClient, error) {
	creds := cfg.Credentials
	if creds == nil {
		return nil, fmt.Errorf("fmp requires credentials")
	}
	return &FMPClient{
		baseURL:     creds.BaseURL,
		apiKey:      creds.APIKey,
		costPerCall: creds.CostPerCall,
		httpClient:  newRetryClient(creds),
		limiter:     newLimiter(creds),
	}, nil
}

func (c *FMPClient) Source() model.SourceType { return model.SourceFMP }

// ValidateAccess probes the profile endpoint with a liquid ticker.
func (c *FMPClient) ValidateAccess(ctx context.Context) bool {
	rows, err := c.call(ctx, "/profile/AAPL", nil)
	if err != nil {
		logrus.WithError(err).Debug("FMP access validation failed")
		return false
	}
	return len(rows) > 0
}

// Fetch retrieves the requested data. The profile endpoint covers price,
// fundamentals, and dividends in one call; cash-flow statements need a
// second.
func (c *FMPClient) Fetch(ctx context.Context, req model.DataRequest) model.Response {
	start := time.Now()
	calls := 0
	raw := make(map[string]interface{})

	needProfile, needCashFlow := false, false
	for _, dt := range req.DataTypes {
		switch dt {
		case model.DataTypePrice, model.DataTypeFundamentals, model.DataTypeDividends:
			needProfile = true
		case model.DataTypeCashFlow:
			needCashFlow = true
		default:
			logrus.Warnf("FMP ignoring unknown data type %q", dt)
		}
	}

	if needProfile {
		calls++
		rows, err := c.call(ctx, "/profile/"+req.Ticker, nil)
		if err != nil {
			return finish(model.Failure(c.Source(), fmt.Sprintf("fmp profile fetch failed for %s: %v", req.Ticker, err)),
				start, calls, c.costPerCall)
		}
		if len(rows) == 0 {
			return finish(model.Failure(c.Source(), fmt.Sprintf("fmp has no profile for %s", req.Ticker)),
				start, calls, c.costPerCall)
		}
		mergeRaw(raw, rows[0])
	}

	if needCashFlow {
		calls++
		params := url.Values{}
		params.Set("period", req.Period)
		if req.Limit > 0 {
			params.Set("limit", fmt.Sprint(req.Limit))
		}
		rows, err := c.call(ctx, "/cash-flow-statement/"+req.Ticker, params)
		if err != nil {
			return finish(model.Failure(c.Source(), fmt.Sprintf("fmp cash flow fetch failed for %s: %v", req.Ticker, err)),
				start, calls, c.costPerCall)
		}
		if len(rows) == 0 {
			return finish(model.Failure(c.Source(), fmt.Sprintf("fmp has no cash flow statements for %s", req.Ticker)),
				start, calls, c.costPerCall)
		}
		mergeRaw(raw, rows[0])
	}

	data := normalizeFields(raw, fmpAliases)
	if requestedPriceMissing(req, data) {
		return finish(model.Failure(c.Source(), fmt.Sprintf("fmp returned no price for %s", req.Ticker)),
			start, calls, c.costPerCall)
	}
	deriveFCF(data)

	return finish(model.Response{Success: true, Source: c.Source(), Data: data}, start, calls, c.costPerCall)
}

// call performs one rate-limited GET against an endpoint returning a JSON
// array of objects, FMP's uniform response shape.
func (c *FMPClient) call(ctx context.Context, path string, params url.Values) ([]map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	reqURL := c.baseURL + path + "?" + params.Encode()
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		// Error payloads arrive as an object rather than an array.
		var obj map[string]interface{}
		if objErr := json.Unmarshal(body, &obj); objErr == nil {
			if msg, ok := obj["Error Message"].(string); ok {
				return nil, fmt.Errorf("provider error: %s", msg)
			}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}
