package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/observability"
)

// Ledger is the balance state machine: it applies the financial effect of
// every deal status transition exactly once. Duplicate callbacks are
// accepted as successes without re-applying effects; transitions out of a
// terminal status are rejected.
type Ledger struct {
	store     Store
	fees      *FeeResolver
	stats     *Stats
	callbacks *CallbackSender
}

func NewLedger(store Store, fees *FeeResolver, stats *Stats, callbacks *CallbackSender) *Ledger {
	return &Ledger{
		store:     store,
		fees:      fees,
		stats:     stats,
		callbacks: callbacks,
	}
}

// Apply transitions the deal to the new status, applying ledger effects
// atomically with the status change. Safe against duplicate and concurrent
// delivery: the per-deal row lock serializes writers, and the recorded
// transition set makes each (deal, status) effect apply at most once.
func (l *Ledger) Apply(ctx context.Context, dealID uuid.UUID, to domain.DealStatus) (*models.Deal, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown target status %q", to)
	}

	var (
		result      *models.Deal
		applied     bool
		notifyURL   string
		notifyToken string
	)

	err := l.store.RunInTx(ctx, func(tx Tx) error {
		deal, err := tx.GetDealForUpdate(ctx, dealID)
		if err != nil {
			return err
		}
		result = deal

		if deal.Status == to {
			// Duplicate callback: accepted as success, no effect.
			zap.L().Debug("duplicate transition ignored",
				zap.String("deal_id", deal.ID.String()),
				zap.String("status", string(to)))
			return nil
		}
		if !domain.CanTransition(deal.Status, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, deal.Status, to)
		}

		firstTime, err := tx.RecordTransition(ctx, deal.ID, deal.Status, to)
		if err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		if !firstTime {
			return nil
		}

		from := deal.Status
		switch to {
		case domain.DealStatusInProgress:
			now := time.Now().UTC()
			deal.AcceptedAt = &now
		case domain.DealStatusReady:
			if err := l.applyReady(ctx, tx, deal); err != nil {
				return err
			}
		case domain.DealStatusExpired:
			if err := l.applyExpired(ctx, tx, deal); err != nil {
				return err
			}
		case domain.DealStatusCanceled:
			if err := l.applyCanceled(ctx, tx, deal); err != nil {
				return err
			}
		case domain.DealStatusDispute:
			if err := l.freezeIntoDispute(ctx, tx, deal); err != nil {
				return err
			}
		}

		deal.Status = to
		if err := tx.UpdateDeal(ctx, deal); err != nil {
			return fmt.Errorf("update deal: %w", err)
		}
		if err := writeAudit(ctx, tx, "deal", deal.ID, "status_transition", string(from), string(to), nil); err != nil {
			return err
		}

		merchant, err := tx.GetMerchant(ctx, deal.MerchantID)
		if err != nil {
			return fmt.Errorf("load merchant for callback: %w", err)
		}
		notifyURL = merchant.CallbackURL
		notifyToken = merchant.CallbackSecret

		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		observability.RecordLedgerTransition(string(to))
		go l.callbacks.Notify(result, notifyURL, notifyToken)
	}
	return result, nil
}

// applyReady credits the merchant's settlement balance, then settles the
// fulfilling principal: collateral release plus profit for traders,
// completed volume and platform margin for aggregators.
func (l *Ledger) applyReady(ctx context.Context, tx Tx, deal *models.Deal) error {
	value := domain.CollateralMicros(deal.AmountMicros, deal.Rate)
	merchantFee := domain.PercentOfMicros(value, deal.FeePercent)

	if err := tx.AddMerchantBalance(ctx, deal.MerchantID, value-merchantFee); err != nil {
		return fmt.Errorf("credit merchant: %w", err)
	}

	switch {
	case deal.TraderID != nil:
		profitPct, err := l.fees.Resolve(ctx, tx, *deal.TraderID, deal.MerchantID, deal.Method, deal.AmountMicros, models.FeeDirectionIn)
		if err != nil {
			return err
		}
		profit := domain.PercentOfMicros(value, profitPct)

		released := deal.CollateralMicros
		if err := tx.AddTraderBalances(ctx, *deal.TraderID, released+profit, -released, 0); err != nil {
			return fmt.Errorf("release collateral: %w", err)
		}
		deal.CollateralMicros = 0

		if err := l.stats.AddCompleted(ctx, tx, *deal.TraderID, value); err != nil {
			return err
		}
		if err := l.stats.AddMargin(ctx, tx, *deal.TraderID, merchantFee-profit); err != nil {
			return err
		}

	case deal.AggregatorID != nil:
		aggFee, err := l.aggregatorFee(ctx, tx, deal, value)
		if err != nil {
			return err
		}
		if err := l.stats.AddCompleted(ctx, tx, *deal.AggregatorID, value); err != nil {
			return err
		}
		if err := l.stats.AddMargin(ctx, tx, *deal.AggregatorID, merchantFee-aggFee); err != nil {
			return err
		}
	}
	return nil
}

// applyExpired increments the expired-volume counter when a fulfillment
// party had been committed. Frozen collateral stays frozen: it is released
// only through cancellation or dispute resolution.
func (l *Ledger) applyExpired(ctx context.Context, tx Tx, deal *models.Deal) error {
	if !deal.Assigned() {
		return nil
	}
	value := domain.CollateralMicros(deal.AmountMicros, deal.Rate)
	if deal.TraderID != nil {
		return l.stats.AddExpired(ctx, tx, *deal.TraderID, value)
	}
	return l.stats.AddExpired(ctx, tx, *deal.AggregatorID, value)
}

// applyCanceled releases held funds without crediting profit.
func (l *Ledger) applyCanceled(ctx context.Context, tx Tx, deal *models.Deal) error {
	if deal.TraderID != nil && deal.CollateralMicros > 0 {
		released := deal.CollateralMicros
		if err := tx.AddTraderBalances(ctx, *deal.TraderID, released, -released, 0); err != nil {
			return fmt.Errorf("release collateral: %w", err)
		}
		deal.CollateralMicros = 0
		return nil
	}
	if deal.AggregatorID != nil {
		value := domain.CollateralMicros(deal.AmountMicros, deal.Rate)
		aggFee, err := l.aggregatorFee(ctx, tx, deal, value)
		if err != nil {
			return err
		}
		if err := tx.AddAggregatorBalance(ctx, *deal.AggregatorID, value+aggFee); err != nil {
			return fmt.Errorf("refund aggregator: %w", err)
		}
	}
	return nil
}

// freezeIntoDispute opens the dispute record alongside the status change.
// Balances stay untouched until resolution.
func (l *Ledger) freezeIntoDispute(ctx context.Context, tx Tx, deal *models.Deal) error {
	existing, err := tx.GetDisputeByDeal(ctx, deal.ID)
	if err != nil {
		return fmt.Errorf("check existing dispute: %w", err)
	}
	if existing != nil {
		return nil
	}
	dispute := &models.Dispute{
		ID:          uuid.New(),
		DealID:      deal.ID,
		Status:      domain.DisputeStatusOpen,
		PriorStatus: deal.Status,
		OpenedAt:    time.Now().UTC(),
	}
	if err := tx.CreateDispute(ctx, dispute); err != nil {
		return fmt.Errorf("create dispute: %w", err)
	}
	return writeAudit(ctx, tx, "dispute", dispute.ID, "opened", "", string(domain.DisputeStatusOpen), nil)
}

func (l *Ledger) aggregatorFee(ctx context.Context, tx Tx, deal *models.Deal, valueMicros int64) (int64, error) {
	pct, err := l.fees.Resolve(ctx, tx, *deal.AggregatorID, deal.MerchantID, deal.Method, deal.AmountMicros, models.FeeDirectionIn)
	if err != nil {
		return 0, err
	}
	return domain.PercentOfMicros(valueMicros, pct), nil
}

// writeAudit stores one immutable audit record, JSON-encoding the metadata
// map when present.
func writeAudit(ctx context.Context, tx Tx, entityType string, entityID uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	var encoded []byte
	if metadata != nil {
		var err error
		encoded, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}
	if err := tx.InsertAudit(ctx, entityType, entityID, action, prevState, nextState, encoded); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
