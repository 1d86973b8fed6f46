package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/gateway"
	"github.com/paylane/dealflow/internal/observability"
	"github.com/paylane/dealflow/internal/ratecache"
)

// RateWorker refreshes market rates into the shared cache so deal
// creation can fall back to a recent rate when the live feed is down.
type RateWorker struct {
	feed       gateway.RateFeed
	cache      ratecache.Cache
	currencies []string
	interval   time.Duration
	timeout    time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewRateWorker constructs a worker refreshing the given source codes.
func NewRateWorker(feed gateway.RateFeed, cache ratecache.Cache, currencies []string) *RateWorker {
	return &RateWorker{
		feed:       feed,
		cache:      cache,
		currencies: currencies,
		interval:   time.Minute,
		timeout:    5 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the refresh interval.
func (w *RateWorker) WithInterval(interval time.Duration) *RateWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and refreshes at the configured interval.
func (w *RateWorker) Start(ctx context.Context) {
	zap.L().Info("rate worker starting",
		zap.Duration("interval", w.interval),
		zap.Strings("currencies", w.currencies),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Warm the cache before the first tick.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("rate worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("rate worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *RateWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RateWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *RateWorker) runOnce(ctx context.Context) {
	failed := false
	for _, code := range w.currencies {
		fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
		rate, err := w.feed.Fetch(fetchCtx, code)
		cancel()
		if err != nil {
			failed = true
			zap.L().Warn("rate refresh failed", zap.String("source", code), zap.Error(err))
			continue
		}
		w.cache.Set(ctx, code, rate)
	}
	if failed {
		observability.RecordWorkerRun("rate_refresh", "failed")
		return
	}
	observability.RecordWorkerRun("rate_refresh", "success")
}
