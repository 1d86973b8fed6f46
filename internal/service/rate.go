package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/gateway"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/ratecache"
)

// platformSourceCode is the fallback market source used when a principal
// has no rate source linked.
const platformSourceCode = "platform"

// RateResolver computes the effective exchange rate for a principal. It
// never fails the deal path: an unreachable market source degrades to the
// last cached value, and finally to the static platform fallback rate.
type RateResolver struct {
	store        Store
	feed         gateway.RateFeed
	cache        ratecache.Cache
	fallbackRate decimal.Decimal
	fetchTimeout time.Duration
}

func NewRateResolver(store Store, feed gateway.RateFeed, cache ratecache.Cache, fallbackRate decimal.Decimal, fetchTimeout time.Duration) *RateResolver {
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Second
	}
	return &RateResolver{
		store:        store,
		feed:         feed,
		cache:        cache,
		fallbackRate: fallbackRate,
		fetchTimeout: fetchTimeout,
	}
}

// Resolve returns the effective rate for the merchant. Resolution order for
// the adjustment percent: the merchant's custom markup/markdown, then its
// linked source's default, then the platform default source.
func (r *RateResolver) Resolve(ctx context.Context, merchant *models.Merchant) decimal.Decimal {
	sourceCode := platformSourceCode
	percent := decimal.Zero
	direction := models.RateDirectionUp

	source := r.lookupSource(ctx, merchant)
	if source != nil {
		sourceCode = source.Code
		percent = source.DefaultPercent
		direction = source.Direction
	}
	if merchant.CustomPercent != nil {
		percent = *merchant.CustomPercent
		if merchant.CustomDirection != "" {
			direction = merchant.CustomDirection
		}
	}

	base := r.baseRate(ctx, sourceCode)
	return EffectiveRate(base, percent, direction)
}

func (r *RateResolver) lookupSource(ctx context.Context, merchant *models.Merchant) *models.RateSource {
	q := r.store.Reader()
	if merchant.RateSourceID != nil {
		source, err := q.GetRateSource(ctx, *merchant.RateSourceID)
		if err == nil {
			return source
		}
		zap.L().Warn("linked rate source lookup failed",
			zap.String("merchant_id", merchant.ID.String()),
			zap.Error(err))
	}
	source, err := q.GetDefaultRateSource(ctx)
	if err != nil {
		zap.L().Warn("default rate source lookup failed", zap.Error(err))
		return nil
	}
	return source
}

// baseRate fetches the live rate, updating the last-good cache on success.
// On failure it serves the cached value, then the static fallback.
func (r *RateResolver) baseRate(ctx context.Context, sourceCode string) decimal.Decimal {
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	rate, err := r.feed.Fetch(fetchCtx, sourceCode)
	if err == nil && rate.IsPositive() {
		r.cache.Set(ctx, sourceCode, rate)
		return rate
	}
	zap.L().Warn("rate source unavailable, degrading",
		zap.String("source", sourceCode),
		zap.Error(err))

	if cached, ok := r.cache.Get(ctx, sourceCode); ok && cached.IsPositive() {
		return cached
	}
	return r.fallbackRate
}

// EffectiveRate applies a direction-sensitive percentage adjustment:
// base × (1 ± percent/100).
func EffectiveRate(base, percent decimal.Decimal, direction models.RateDirection) decimal.Decimal {
	adjust := percent.Div(decimal.NewFromInt(100))
	if direction == models.RateDirectionDown {
		return base.Mul(decimal.NewFromInt(1).Sub(adjust))
	}
	return base.Mul(decimal.NewFromInt(1).Add(adjust))
}
