package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paylane/dealflow/internal/gateway"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/ratecache"
)

type failingRateFeed struct{}

func (failingRateFeed) Fetch(ctx context.Context, sourceCode string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("feed unreachable")
}

func TestEffectiveRateDirections(t *testing.T) {
	base := decimal.RequireFromString("80")

	up := EffectiveRate(base, decimal.NewFromInt(5), models.RateDirectionUp)
	require.True(t, up.Equal(decimal.RequireFromString("84")), "got %s", up)

	down := EffectiveRate(base, decimal.NewFromInt(5), models.RateDirectionDown)
	require.True(t, down.Equal(decimal.RequireFromString("76")), "got %s", down)

	flat := EffectiveRate(base, decimal.Zero, models.RateDirectionUp)
	require.True(t, flat.Equal(base))
}

func TestRateResolverLiveFeedWarmsCache(t *testing.T) {
	store := newMemStore()
	cache := ratecache.NewMemoryCache()
	feed := &gateway.StaticRateFeed{Rates: map[string]decimal.Decimal{
		"platform": decimal.RequireFromString("81.78"),
	}}
	resolver := NewRateResolver(store, feed, cache, decimal.RequireFromString("75"), time.Second)

	merchant := &models.Merchant{ID: uuid.New()}
	got := resolver.Resolve(context.Background(), merchant)
	require.True(t, got.Equal(decimal.RequireFromString("81.78")), "got %s", got)

	cached, ok := cache.Get(context.Background(), "platform")
	require.True(t, ok)
	require.True(t, cached.Equal(decimal.RequireFromString("81.78")))
}

func TestRateResolverDegradesToCachedValue(t *testing.T) {
	store := newMemStore()
	cache := ratecache.NewMemoryCache()
	cache.Set(context.Background(), "platform", decimal.RequireFromString("82.50"))
	resolver := NewRateResolver(store, failingRateFeed{}, cache, decimal.RequireFromString("75"), time.Second)

	got := resolver.Resolve(context.Background(), &models.Merchant{ID: uuid.New()})
	require.True(t, got.Equal(decimal.RequireFromString("82.50")), "got %s", got)
}

func TestRateResolverDegradesToFallback(t *testing.T) {
	store := newMemStore()
	resolver := NewRateResolver(store, failingRateFeed{}, ratecache.NewMemoryCache(), decimal.RequireFromString("75"), time.Second)

	got := resolver.Resolve(context.Background(), &models.Merchant{ID: uuid.New()})
	require.True(t, got.Equal(decimal.RequireFromString("75")), "got %s", got)
}

func TestRateResolverAppliesSourceDefaultPercent(t *testing.T) {
	store := newMemStore()
	src := &models.RateSource{
		ID:             uuid.New(),
		Code:           "garantex",
		DefaultPercent: decimal.NewFromInt(2),
		Direction:      models.RateDirectionUp,
	}
	store.rateSources[src.ID] = src

	cache := ratecache.NewMemoryCache()
	feed := &gateway.StaticRateFeed{Rates: map[string]decimal.Decimal{
		"garantex": decimal.RequireFromString("80"),
	}}
	resolver := NewRateResolver(store, feed, cache, decimal.RequireFromString("75"), time.Second)

	srcID := src.ID
	merchant := &models.Merchant{ID: uuid.New(), RateSourceID: &srcID}
	got := resolver.Resolve(context.Background(), merchant)
	require.True(t, got.Equal(decimal.RequireFromString("81.6")), "got %s", got)
}

func TestRateResolverCustomPercentOverridesSource(t *testing.T) {
	store := newMemStore()
	src := &models.RateSource{
		ID:             uuid.New(),
		Code:           "garantex",
		DefaultPercent: decimal.NewFromInt(2),
		Direction:      models.RateDirectionUp,
	}
	store.rateSources[src.ID] = src

	feed := &gateway.StaticRateFeed{Rates: map[string]decimal.Decimal{
		"garantex": decimal.RequireFromString("80"),
	}}
	resolver := NewRateResolver(store, feed, ratecache.NewMemoryCache(), decimal.RequireFromString("75"), time.Second)

	srcID := src.ID
	custom := decimal.RequireFromString("1.25")
	merchant := &models.Merchant{
		ID:              uuid.New(),
		RateSourceID:    &srcID,
		CustomPercent:   &custom,
		CustomDirection: models.RateDirectionDown,
	}
	got := resolver.Resolve(context.Background(), merchant)
	require.True(t, got.Equal(decimal.RequireFromString("79")), "got %s", got)
}

func TestRateResolverUsesDefaultSource(t *testing.T) {
	store := newMemStore()
	store.defaultSrc = &models.RateSource{
		ID:             uuid.New(),
		Code:           "bybit",
		DefaultPercent: decimal.NewFromInt(1),
		Direction:      models.RateDirectionDown,
	}

	feed := &gateway.StaticRateFeed{Rates: map[string]decimal.Decimal{
		"bybit": decimal.RequireFromString("100"),
	}}
	resolver := NewRateResolver(store, feed, ratecache.NewMemoryCache(), decimal.RequireFromString("75"), time.Second)

	got := resolver.Resolve(context.Background(), &models.Merchant{ID: uuid.New()})
	require.True(t, got.Equal(decimal.RequireFromString("99")), "got %s", got)
}
