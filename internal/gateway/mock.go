package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// MockAggregatorClient simulates a remote aggregator for local runs and
// tests. It introduces a configurable delay and fails a configurable
// fraction of calls.
type MockAggregatorClient struct {
	// FailureRate is the probability of a rejected call (0.0 to 1.0).
	FailureRate float64
	// Delay is the simulated network latency per call.
	Delay time.Duration
}

// NewMockAggregatorClient creates a mock with mild latency and a 10%
// failure rate.
func NewMockAggregatorClient() *MockAggregatorClient {
	return &MockAggregatorClient{
		FailureRate: 0.1,
		Delay:       150 * time.Millisecond,
	}
}

func (m *MockAggregatorClient) CreateDeal(ctx context.Context, endpoint, apiKey string, req DealRequest) (*DealResponse, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("aggregator call canceled: %w", ctx.Err())
		}
	}

	if rand.Float64() < m.FailureRate {
		return &DealResponse{Accepted: false}, nil
	}

	return &DealResponse{
		Accepted:      true,
		PartnerDealID: fmt.Sprintf("AGG-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000)),
		Bank:          "Partner Bank",
		AccountNumber: fmt.Sprintf("40817%011d", rand.Int63n(100_000_000_000)),
		Holder:        "Partner Holder",
	}, nil
}

// StaticRateFeed serves a fixed rate per source code; unknown codes fail.
// Used in tests and local development.
type StaticRateFeed struct {
	Rates map[string]decimal.Decimal
}

func (f *StaticRateFeed) Fetch(ctx context.Context, sourceCode string) (decimal.Decimal, error) {
	if rate, ok := f.Rates[sourceCode]; ok {
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("no rate for source %q", sourceCode)
}
