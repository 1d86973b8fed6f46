package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

// Store is the data access contract required by services. The repository
// package provides the Postgres implementation; tests use an in-memory one.
type Store interface {
	// Reader returns a non-transactional query view.
	Reader() Tx
	// RunInTx executes fn within a single atomic unit of work. Any error
	// rolls back every write made through the passed Tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the typed queries available inside (or outside) a transaction.
// ForUpdate variants take a row-level lock and are only meaningful inside
// RunInTx.
type Tx interface {
	// Deals.
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetDealForUpdate(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetDealByOrderID(ctx context.Context, merchantID uuid.UUID, orderID string) (*models.Deal, error)
	GetDealByPartnerID(ctx context.Context, partnerDealID string) (*models.Deal, error)
	CreateDeal(ctx context.Context, deal *models.Deal) error
	UpdateDeal(ctx context.Context, deal *models.Deal) error
	ListDealsPastExpiry(ctx context.Context, now time.Time, limit int32) ([]models.Deal, error)
	// RecordTransition inserts the (deal, to-status) idempotency marker.
	// It returns false when the transition was already recorded.
	RecordTransition(ctx context.Context, dealID uuid.UUID, from, to domain.DealStatus) (bool, error)

	// Merchants.
	GetMerchant(ctx context.Context, id uuid.UUID) (*models.Merchant, error)
	GetMerchantForUpdate(ctx context.Context, id uuid.UUID) (*models.Merchant, error)
	AddMerchantBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error

	// Traders.
	GetTrader(ctx context.Context, id uuid.UUID) (*models.Trader, error)
	GetTraderForUpdate(ctx context.Context, id uuid.UUID) (*models.Trader, error)
	// AddTraderBalances applies deltas to trust, frozen and deposit in one
	// statement.
	AddTraderBalances(ctx context.Context, id uuid.UUID, trustDelta, frozenDelta, depositDelta int64) error
	TraderMerchantMethodEnabled(ctx context.Context, traderID, merchantID uuid.UUID, method string) (bool, error)
	MerchantBlacklistsTrader(ctx context.Context, merchantID, traderID uuid.UUID) (bool, error)

	// Requisites.
	GetRequisiteForUpdate(ctx context.Context, id uuid.UUID) (*models.Requisite, error)
	// ListCandidateRequisites returns active, non-archived requisites for
	// the method whose [min,max] admits the amount, owned by unbanned,
	// traffic-enabled, filter-enabled traders, ordered least recently
	// assigned first. Fine-grained eligibility is re-checked by the router.
	ListCandidateRequisites(ctx context.Context, method string, amountMicros int64) ([]models.Requisite, error)
	TouchRequisite(ctx context.Context, id uuid.UUID, at time.Time) error
	// RequisiteHasActiveDeal reports whether a non-terminal deal is
	// currently pinned to the requisite.
	RequisiteHasActiveDeal(ctx context.Context, id uuid.UUID) (bool, error)

	// Aggregators.
	GetAggregator(ctx context.Context, id uuid.UUID) (*models.Aggregator, error)
	GetAggregatorForUpdate(ctx context.Context, id uuid.UUID) (*models.Aggregator, error)
	// ListActiveAggregators returns active aggregators with a configured
	// endpoint, ordered by priority DESC, then last_used_at ASC.
	ListActiveAggregators(ctx context.Context) ([]models.Aggregator, error)
	AddAggregatorBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error
	MarkAggregatorUsed(ctx context.Context, id uuid.UUID, at time.Time, dailyVolumeDeltaMicros int64) error

	// Lifetime counters, keyed by principal id.
	AddCounters(ctx context.Context, principalID uuid.UUID, delta models.Counters) error
	GetCounters(ctx context.Context, principalID uuid.UUID) (models.Counters, error)

	// Fee and rate configuration.
	GetFeeConfig(ctx context.Context, principalID, merchantID uuid.UUID, method string) (*models.FeeConfig, error)
	UpsertFeeConfig(ctx context.Context, cfg *models.FeeConfig) error
	GetRateSource(ctx context.Context, id uuid.UUID) (*models.RateSource, error)
	GetDefaultRateSource(ctx context.Context) (*models.RateSource, error)

	// Disputes.
	CreateDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetDisputeByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error)
	UpdateDispute(ctx context.Context, d *models.Dispute) error

	// Audit trail.
	InsertAudit(ctx context.Context, entityType string, entityID uuid.UUID, action, prevState, nextState string, metadata []byte) error
}
