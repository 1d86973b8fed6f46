package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// DealRequest is the outbound aggregator deal-creation payload.
type DealRequest struct {
	DealID       string          `json:"deal_id"`
	AmountMicros int64           `json:"amount_micros"`
	Currency     string          `json:"currency"`
	Rate         decimal.Decimal `json:"rate"`
	Method       string          `json:"method"`
	CallbackURL  string          `json:"callback_url"`
	ClientID     string          `json:"client_id,omitempty"`
}

// DealResponse is the aggregator's reply to a deal-creation call.
type DealResponse struct {
	Accepted      bool   `json:"accepted"`
	PartnerDealID string `json:"partner_deal_id"`
	Bank          string `json:"bank,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	Holder        string `json:"holder,omitempty"`
}

// AggregatorClient issues deal-creation calls against a remote aggregator
// endpoint. The caller bounds each call with a context deadline; the client
// never retries.
type AggregatorClient interface {
	CreateDeal(ctx context.Context, endpoint, apiKey string, req DealRequest) (*DealResponse, error)
}

// HTTPAggregatorClient is the production AggregatorClient over plain HTTP.
type HTTPAggregatorClient struct {
	client *http.Client
}

// NewHTTPAggregatorClient builds a client around a shared http.Client.
// Per-call deadlines come from the caller's context, so the underlying
// client carries no timeout of its own.
func NewHTTPAggregatorClient() *HTTPAggregatorClient {
	return &HTTPAggregatorClient{client: &http.Client{}}
}

func (c *HTTPAggregatorClient) CreateDeal(ctx context.Context, endpoint, apiKey string, req DealRequest) (*DealResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode deal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build deal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aggregator call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var out DealResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode aggregator response: %w", err)
	}
	return &out, nil
}
