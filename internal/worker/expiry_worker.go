package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/observability"
	"github.com/paylane/dealflow/internal/service"
)

// ExpiryWorker sweeps deals past their expiry window and applies the
// EXPIRED transition through the ledger. Safe for concurrent instances:
// the transition record makes a double sweep a no-op.
type ExpiryWorker struct {
	store     service.Store
	ledger    *service.Ledger
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewExpiryWorker constructs a worker with a default 30 second sweep.
func NewExpiryWorker(store service.Store, ledger *service.Ledger) *ExpiryWorker {
	return &ExpiryWorker{
		store:     store,
		ledger:    ledger,
		interval:  30 * time.Second,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *ExpiryWorker) WithInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithBatchSize caps the number of deals expired per sweep.
func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting", zap.Duration("interval", w.interval), zap.Int32("batch", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce expires a single batch immediately. Useful for testing or
// manual triggering.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) error {
	return w.sweep(ctx)
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	if err := w.sweep(ctx); err != nil {
		observability.RecordWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.RecordWorkerRun("expiry", "success")
}

func (w *ExpiryWorker) sweep(ctx context.Context) error {
	deals, err := w.store.Reader().ListDealsPastExpiry(ctx, time.Now(), w.batchSize)
	if err != nil {
		return err
	}

	for _, deal := range deals {
		if _, err := w.ledger.Apply(ctx, deal.ID, domain.DealStatusExpired); err != nil {
			// One stuck deal must not block the rest of the batch.
			zap.L().Error("expire deal failed",
				zap.String("deal_id", deal.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
