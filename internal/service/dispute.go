package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/observability"
)

// ResolutionFavor names the party a dispute is resolved for.
type ResolutionFavor string

const (
	FavorMerchant ResolutionFavor = "merchant"
	FavorTrader   ResolutionFavor = "trader"
)

// Disputes finalizes contested deals. Resolution is admin-triggered,
// terminal and idempotent against replay.
type Disputes struct {
	store     Store
	ledger    *Ledger
	callbacks *CallbackSender
}

func NewDisputes(store Store, ledger *Ledger, callbacks *CallbackSender) *Disputes {
	return &Disputes{store: store, ledger: ledger, callbacks: callbacks}
}

// Open places a deal into dispute, freezing its ledger state. Goes through
// the ledger engine so the status change and dispute record share one
// transaction.
func (s *Disputes) Open(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	if _, err := s.ledger.Apply(ctx, dealID, domain.DealStatusDispute); err != nil {
		return nil, err
	}
	dispute, err := s.store.Reader().GetDisputeByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, models.ErrDisputeNotFound
	}
	return dispute, nil
}

// Take moves an open dispute to IN_PROGRESS, marking that an operator has
// picked it up.
func (s *Disputes) Take(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	var result *models.Dispute
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		dispute, err := tx.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if dispute.Status.Resolved() {
			return models.ErrDisputeAlreadyResolved
		}
		if dispute.Status == domain.DisputeStatusInProgress {
			result = dispute
			return nil
		}
		dispute.Status = domain.DisputeStatusInProgress
		if err := tx.UpdateDispute(ctx, dispute); err != nil {
			return err
		}
		result = dispute
		return writeAudit(ctx, tx, "dispute", dispute.ID, "taken",
			string(domain.DisputeStatusOpen), string(domain.DisputeStatusInProgress), nil)
	})
	return result, err
}

// Resolve finalizes the dispute in favor of one party.
//
// Favor merchant: the deal is forced to EXPIRED and the trader's committed
// collateral is forfeited to the merchant: from frozen collateral when
// still held, otherwise from trust balance first and deposit for any
// shortfall. Combined trust+deposit never goes negative.
//
// Favor trader: collateral is released back to trust without forfeiture and
// the deal returns to its pre-dispute status.
func (s *Disputes) Resolve(ctx context.Context, disputeID uuid.UUID, favor ResolutionFavor, rationale string) (*models.Dispute, error) {
	if favor != FavorMerchant && favor != FavorTrader {
		return nil, fmt.Errorf("unknown resolution favor %q", favor)
	}

	var result *models.Dispute
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		dispute, err := tx.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if dispute.Status.Resolved() {
			return models.ErrDisputeAlreadyResolved
		}

		deal, err := tx.GetDealForUpdate(ctx, dispute.DealID)
		if err != nil {
			return err
		}

		prev := dispute.Status
		if favor == FavorMerchant {
			if err := s.resolveFavorMerchant(ctx, tx, dispute, deal); err != nil {
				return err
			}
			dispute.Status = domain.DisputeStatusFavorMerchant
		} else {
			if err := s.resolveFavorTrader(ctx, tx, dispute, deal); err != nil {
				return err
			}
			dispute.Status = domain.DisputeStatusFavorTrader
		}

		now := time.Now().UTC()
		dispute.Rationale = rationale
		dispute.ResolvedAt = &now
		if err := tx.UpdateDispute(ctx, dispute); err != nil {
			return err
		}
		if err := writeAudit(ctx, tx, "dispute", dispute.ID, "resolved",
			string(prev), string(dispute.Status),
			map[string]any{"favor": string(favor), "rationale": rationale}); err != nil {
			return err
		}

		result = dispute
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordDisputeResolution(string(favor))
	zap.L().Info("dispute resolved",
		zap.String("dispute_id", disputeID.String()),
		zap.String("favor", string(favor)))
	return result, nil
}

func (s *Disputes) resolveFavorMerchant(ctx context.Context, tx Tx, dispute *models.Dispute, deal *models.Deal) error {
	collateral := domain.CollateralMicros(deal.AmountMicros, deal.Rate)

	if deal.TraderID != nil && collateral > 0 {
		trader, err := tx.GetTraderForUpdate(ctx, *deal.TraderID)
		if err != nil {
			return err
		}

		var trustDebit, frozenDebit, depositDebit int64
		if deal.CollateralMicros > 0 {
			// Collateral still frozen: forfeit it outright.
			frozenDebit = deal.CollateralMicros
			deal.CollateralMicros = 0
		} else {
			// Already released (deal had reached READY): claw it back from
			// trust first, deposit for the shortfall.
			trustDebit = collateral
			if trustDebit > trader.TrustMicros {
				depositDebit = trustDebit - trader.TrustMicros
				trustDebit = trader.TrustMicros
			}
			if depositDebit > trader.DepositMicros {
				depositDebit = trader.DepositMicros
			}
		}

		if err := tx.AddTraderBalances(ctx, trader.ID, -trustDebit, -frozenDebit, -depositDebit); err != nil {
			return fmt.Errorf("forfeit collateral: %w", err)
		}
		forfeited := trustDebit + frozenDebit + depositDebit
		if err := tx.AddMerchantBalance(ctx, deal.MerchantID, forfeited); err != nil {
			return fmt.Errorf("credit merchant forfeiture: %w", err)
		}
	}

	deal.Status = domain.DealStatusExpired
	if _, err := tx.RecordTransition(ctx, deal.ID, domain.DealStatusDispute, domain.DealStatusExpired); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return tx.UpdateDeal(ctx, deal)
}

func (s *Disputes) resolveFavorTrader(ctx context.Context, tx Tx, dispute *models.Dispute, deal *models.Deal) error {
	if deal.TraderID != nil && deal.CollateralMicros > 0 {
		released := deal.CollateralMicros
		if err := tx.AddTraderBalances(ctx, *deal.TraderID, released, -released, 0); err != nil {
			return fmt.Errorf("release collateral: %w", err)
		}
		deal.CollateralMicros = 0
	}

	// Restore the pre-dispute status without re-applying its effects.
	deal.Status = dispute.PriorStatus
	return tx.UpdateDeal(ctx, deal)
}
