package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// RateFeed fetches the current base market rate for a source code.
type RateFeed interface {
	Fetch(ctx context.Context, sourceCode string) (decimal.Decimal, error)
}

// HTTPRateFeed pulls rates from a market price endpoint. It expects a
// response of the form {"code": "...", "rate": "81.78"}.
type HTTPRateFeed struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRateFeed(baseURL string) *HTTPRateFeed {
	return &HTTPRateFeed{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (f *HTTPRateFeed) Fetch(ctx context.Context, sourceCode string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/rates/"+sourceCode, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate source call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var out struct {
		Code string          `json:"code"`
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}
	if out.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("rate source returned non-positive rate %s", out.Rate)
	}
	return out.Rate, nil
}
