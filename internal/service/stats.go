package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylane/dealflow/internal/models"
)

// Stats is the passive metrics aggregator: lifetime per-principal volume
// counters plus accumulated platform margin. Counter writes happen inside
// the same transaction as the ledger transition that caused them.
type Stats struct {
	store Store
}

func NewStats(store Store) *Stats {
	return &Stats{store: store}
}

func (s *Stats) AddUnassignable(ctx context.Context, tx Tx, principalID uuid.UUID, valueMicros int64) error {
	return tx.AddCounters(ctx, principalID, models.Counters{UnassignableMicros: valueMicros})
}

func (s *Stats) AddCompleted(ctx context.Context, tx Tx, principalID uuid.UUID, valueMicros int64) error {
	return tx.AddCounters(ctx, principalID, models.Counters{CompletedMicros: valueMicros})
}

func (s *Stats) AddExpired(ctx context.Context, tx Tx, principalID uuid.UUID, valueMicros int64) error {
	return tx.AddCounters(ctx, principalID, models.Counters{ExpiredMicros: valueMicros})
}

func (s *Stats) AddMargin(ctx context.Context, tx Tx, principalID uuid.UUID, marginMicros int64) error {
	return tx.AddCounters(ctx, principalID, models.Counters{MarginMicros: marginMicros})
}

// PrincipalStats is the read-path view over a principal's lifetime
// counters.
type PrincipalStats struct {
	PrincipalID uuid.UUID       `json:"principal_id"`
	Counters    models.Counters `json:"counters"`
	SuccessRate decimal.Decimal `json:"success_rate"`
}

// Get returns the counters with the derived lifetime success rate:
// completed / (completed + expired + unassignable).
func (s *Stats) Get(ctx context.Context, principalID uuid.UUID) (*PrincipalStats, error) {
	counters, err := s.store.Reader().GetCounters(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}

	total := counters.CompletedMicros + counters.ExpiredMicros + counters.UnassignableMicros
	rate := decimal.Zero
	if total > 0 {
		rate = decimal.NewFromInt(counters.CompletedMicros).
			Div(decimal.NewFromInt(total)).
			Round(4)
	}

	return &PrincipalStats{
		PrincipalID: principalID,
		Counters:    counters,
		SuccessRate: rate,
	}, nil
}
