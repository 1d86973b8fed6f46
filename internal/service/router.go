package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/gateway"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/observability"
)

// RouterConfig carries the platform-wide routing knobs.
type RouterConfig struct {
	// MinDepositMicros is the minimum trader insurance deposit required to
	// receive deals.
	MinDepositMicros int64
	// MinInsuranceMicros is the minimum aggregator insurance deposit, for
	// aggregators that require one.
	MinInsuranceMicros int64
	// DealTTL is the default deal expiry window.
	DealTTL time.Duration
	// DefaultSLA bounds aggregator calls whose configuration carries none.
	DefaultSLA time.Duration
	// CallbackBaseURL is the publicly reachable base for aggregator
	// callbacks.
	CallbackBaseURL string
}

// CreateDealRequest is the inbound deal-creation call.
type CreateDealRequest struct {
	MerchantID   uuid.UUID
	OrderID      string
	AmountMicros int64
	Currency     string
	Method       string
	CallbackURL  string
	ExpiresAt    time.Time
	ClientID     string
	Traffic      domain.TrafficType
}

// Router is the fulfillment router: it assigns a new deal to an eligible
// trader requisite, or falls back through the prioritized aggregator list.
type Router struct {
	store      Store
	rates      *RateResolver
	fees       *FeeResolver
	stats      *Stats
	aggregator gateway.AggregatorClient
	cfg        RouterConfig
}

func NewRouter(store Store, rates *RateResolver, fees *FeeResolver, stats *Stats, aggregator gateway.AggregatorClient, cfg RouterConfig) *Router {
	if cfg.DealTTL <= 0 {
		cfg.DealTTL = 30 * time.Minute
	}
	if cfg.DefaultSLA <= 0 {
		cfg.DefaultSLA = 10 * time.Second
	}
	return &Router{
		store:      store,
		rates:      rates,
		fees:       fees,
		stats:      stats,
		aggregator: aggregator,
		cfg:        cfg,
	}
}

// CreateDeal routes a deal request. It returns the assigned deal with its
// payment details, or ErrNoFulfillmentAvailable once every trader and
// aggregator candidate is exhausted. The caller never observes a partial
// assignment: the deal row is only created inside a successful commit.
func (r *Router) CreateDeal(ctx context.Context, req CreateDealRequest) (*models.Deal, error) {
	if req.AmountMicros <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", req.AmountMicros)
	}
	if req.OrderID == "" {
		return nil, errors.New("order_id is required")
	}
	if req.Method == "" {
		return nil, errors.New("method is required")
	}
	if req.Traffic == "" {
		req.Traffic = domain.TrafficTypePrimary
	}

	reader := r.store.Reader()

	// Replay of the same merchant order returns the original assignment.
	if existing, err := reader.GetDealByOrderID(ctx, req.MerchantID, req.OrderID); err != nil {
		return nil, fmt.Errorf("check order replay: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	merchant, err := reader.GetMerchant(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	rate := r.rates.Resolve(ctx, merchant)
	feePct, err := r.fees.Resolve(ctx, reader, merchant.ID, merchant.ID, req.Method, req.AmountMicros, models.FeeDirectionIn)
	if err != nil {
		return nil, err
	}

	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = time.Now().UTC().Add(r.cfg.DealTTL)
	}

	deal, err := r.traderPhase(ctx, req, merchant, rate, feePct)
	if err != nil {
		return nil, err
	}
	if deal != nil {
		observability.RecordRoutingOutcome("trader")
		return deal, nil
	}

	deal, err = r.aggregatorPhase(ctx, req, merchant, rate, feePct)
	if err != nil {
		return nil, err
	}
	if deal != nil {
		observability.RecordRoutingOutcome("aggregator")
		return deal, nil
	}

	// Both phases exhausted.
	value := domain.CollateralMicros(req.AmountMicros, rate)
	if err := r.store.RunInTx(ctx, func(tx Tx) error {
		return r.stats.AddUnassignable(ctx, tx, merchant.ID, value)
	}); err != nil {
		zap.L().Error("record unassignable volume", zap.Error(err))
	}
	observability.RecordRoutingOutcome("none")
	return nil, models.ErrNoFulfillmentAvailable
}

// traderPhase walks eligible requisites least recently assigned first and
// commits the first one that still passes every filter under lock.
// Returns (nil, nil) when no requisite can take the deal.
func (r *Router) traderPhase(ctx context.Context, req CreateDealRequest, merchant *models.Merchant, rate decimal.Decimal, feePct decimal.Decimal) (*models.Deal, error) {
	collateral := domain.CollateralMicros(req.AmountMicros, rate)
	if collateral <= 0 {
		return nil, nil
	}

	reader := r.store.Reader()
	candidates, err := reader.ListCandidateRequisites(ctx, req.Method, req.AmountMicros)
	if err != nil {
		return nil, fmt.Errorf("list candidate requisites: %w", err)
	}

	for i := range candidates {
		requisite := candidates[i]

		// Cheap pre-check against a possibly stale read; every condition is
		// re-validated under lock before the reservation commits.
		if reason := r.requisiteEligible(ctx, reader, &requisite, req, merchant.ID, collateral, time.Now().UTC()); reason != "" {
			observability.RecordCandidateSkip("trader", reason)
			continue
		}

		deal, err := r.commitTraderAssignment(ctx, req, merchant, &requisite, rate, feePct, collateral)
		if err != nil {
			zap.L().Warn("trader assignment lost under lock",
				zap.String("requisite_id", requisite.ID.String()),
				zap.Error(err))
			continue
		}
		return deal, nil
	}
	return nil, nil
}

// requisiteEligible re-evaluates the multi-criteria trader filter. It
// returns an empty string when eligible, or the failed criterion.
func (r *Router) requisiteEligible(ctx context.Context, q Tx, requisite *models.Requisite, req CreateDealRequest, merchantID uuid.UUID, collateral int64, now time.Time) string {
	if !requisite.Active || requisite.Archived {
		return "inactive"
	}
	if requisite.Method != req.Method {
		return "method"
	}
	if req.AmountMicros < requisite.MinAmountMicros || req.AmountMicros > requisite.MaxAmountMicros {
		return "amount_bounds"
	}
	if requisite.LastAssignedAt != nil && now.Sub(*requisite.LastAssignedAt) < requisite.Cooldown {
		return "cooldown"
	}

	trader, err := q.GetTrader(ctx, requisite.TraderID)
	if err != nil {
		zap.L().Warn("trader lookup failed", zap.Error(err))
		return "trader_lookup"
	}
	if trader.Banned {
		return "banned"
	}
	if !trader.TrafficEnabled {
		return "traffic_disabled"
	}
	if trader.TrustMicros < collateral {
		return "insufficient_balance"
	}
	if trader.DepositMicros < r.cfg.MinDepositMicros {
		return "insufficient_deposit"
	}
	if !trader.AllowsMerchant(merchantID) {
		return "merchant_filter"
	}
	if !trader.AllowsTraffic(req.Traffic) {
		return "traffic_filter"
	}

	blacklisted, err := q.MerchantBlacklistsTrader(ctx, merchantID, trader.ID)
	if err != nil {
		zap.L().Warn("blacklist lookup failed", zap.Error(err))
		return "blacklist_lookup"
	}
	if blacklisted {
		return "blacklisted"
	}

	enabled, err := q.TraderMerchantMethodEnabled(ctx, trader.ID, merchantID, req.Method)
	if err != nil {
		zap.L().Warn("pair lookup failed", zap.Error(err))
		return "pair_lookup"
	}
	if !enabled {
		return "pair_disabled"
	}

	busy, err := q.RequisiteHasActiveDeal(ctx, requisite.ID)
	if err != nil {
		zap.L().Warn("active deal lookup failed", zap.Error(err))
		return "active_lookup"
	}
	if busy {
		return "busy"
	}
	return ""
}

// commitTraderAssignment re-validates under row locks, then reserves
// collateral and creates the deal in one atomic step.
func (r *Router) commitTraderAssignment(ctx context.Context, req CreateDealRequest, merchant *models.Merchant, candidate *models.Requisite, rate, feePct decimal.Decimal, collateral int64) (*models.Deal, error) {
	var deal *models.Deal
	err := r.store.RunInTx(ctx, func(tx Tx) error {
		requisite, err := tx.GetRequisiteForUpdate(ctx, candidate.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if reason := r.requisiteEligible(ctx, tx, requisite, req, merchant.ID, collateral, now); reason != "" {
			return fmt.Errorf("requisite no longer eligible: %s", reason)
		}

		if err := tx.AddTraderBalances(ctx, requisite.TraderID, -collateral, collateral, 0); err != nil {
			return fmt.Errorf("reserve collateral: %w", err)
		}
		if err := tx.TouchRequisite(ctx, requisite.ID, now); err != nil {
			return fmt.Errorf("touch requisite: %w", err)
		}

		traderID := requisite.TraderID
		details := requisite.Details
		deal = &models.Deal{
			ID:               uuid.New(),
			MerchantID:       merchant.ID,
			OrderID:          req.OrderID,
			AmountMicros:     req.AmountMicros,
			Currency:         req.Currency,
			Method:           req.Method,
			Status:           domain.DealStatusCreated,
			Rate:             rate,
			FeePercent:       feePct,
			Traffic:          req.Traffic,
			ClientID:         req.ClientID,
			CollateralMicros: collateral,
			TraderID:         &traderID,
			RequisiteID:      &requisite.ID,
			Details:          &details,
			CallbackURL:      req.CallbackURL,
			CreatedAt:        now,
			ExpiresAt:        req.ExpiresAt,
		}
		if err := tx.CreateDeal(ctx, deal); err != nil {
			return fmt.Errorf("create deal: %w", err)
		}
		return writeAudit(ctx, tx, "deal", deal.ID, "created", "", string(domain.DealStatusCreated),
			map[string]any{"fulfillment": "trader", "trader_id": traderID.String()})
	})
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// aggregatorPhase falls back through active aggregators ordered by
// priority, then least recently used. One bounded remote call per
// candidate, never retried; the first accepted response wins.
func (r *Router) aggregatorPhase(ctx context.Context, req CreateDealRequest, merchant *models.Merchant, rate, feePct decimal.Decimal) (*models.Deal, error) {
	value := domain.CollateralMicros(req.AmountMicros, rate)

	candidates, err := r.store.Reader().ListActiveAggregators(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregators: %w", err)
	}

	now := time.Now().UTC()
	for i := range candidates {
		agg := candidates[i]

		if reason := r.aggregatorEligible(&agg, value, now); reason != "" {
			observability.RecordCandidateSkip("aggregator", reason)
			continue
		}

		resp, err := r.callAggregator(ctx, &agg, req, rate)
		if err != nil {
			if errors.Is(err, models.ErrCandidateTimeout) {
				zap.L().Warn("aggregator exceeded SLA",
					zap.String("aggregator_id", agg.ID.String()),
					zap.Duration("sla", r.slaFor(&agg)))
				observability.RecordCandidateSkip("aggregator", "timeout")
			} else {
				zap.L().Warn("aggregator call failed",
					zap.String("aggregator_id", agg.ID.String()),
					zap.Error(err))
				observability.RecordCandidateSkip("aggregator", "call_failed")
			}
			continue
		}
		if !resp.Accepted {
			zap.L().Info("aggregator declined deal",
				zap.String("aggregator_id", agg.ID.String()))
			observability.RecordCandidateSkip("aggregator", "declined")
			continue
		}

		deal, err := r.commitAggregatorAssignment(ctx, req, merchant, &agg, rate, feePct, value, resp)
		if err != nil {
			zap.L().Error("aggregator assignment lost under lock",
				zap.String("aggregator_id", agg.ID.String()),
				zap.String("partner_deal_id", resp.PartnerDealID),
				zap.Error(err))
			continue
		}
		return deal, nil
	}
	return nil, nil
}

func (r *Router) aggregatorEligible(agg *models.Aggregator, value int64, now time.Time) string {
	if !agg.Active || agg.Endpoint == "" {
		return "inactive"
	}
	if agg.BalanceMicros < agg.MinBalanceMicros {
		return "insufficient_balance"
	}
	if agg.InsuranceRequired && agg.InsuranceMicros < r.cfg.MinInsuranceMicros {
		return "insufficient_deposit"
	}
	if agg.DailyCapMicros > 0 {
		volume := agg.DailyVolumeMicros
		if !sameDay(agg.DailyVolumeDate, now) {
			volume = 0
		}
		if volume+value > agg.DailyCapMicros {
			return "daily_cap"
		}
	}
	return ""
}

func (r *Router) callAggregator(ctx context.Context, agg *models.Aggregator, req CreateDealRequest, rate decimal.Decimal) (*gateway.DealResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.slaFor(agg))
	defer cancel()

	resp, err := r.aggregator.CreateDeal(callCtx, agg.Endpoint, agg.APIKey, gateway.DealRequest{
		DealID:       req.OrderID,
		AmountMicros: req.AmountMicros,
		Currency:     req.Currency,
		Rate:         rate,
		Method:       req.Method,
		CallbackURL:  r.cfg.CallbackBaseURL + "/v1/callbacks/partner",
		ClientID:     req.ClientID,
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no response within %s", models.ErrCandidateTimeout, r.slaFor(agg))
	}
	return resp, err
}

func (r *Router) slaFor(agg *models.Aggregator) time.Duration {
	if agg.SLATimeout > 0 {
		return agg.SLATimeout
	}
	return r.cfg.DefaultSLA
}

// commitAggregatorAssignment deducts the deal cost from the aggregator's
// balance within the same atomic step as the assignment.
func (r *Router) commitAggregatorAssignment(ctx context.Context, req CreateDealRequest, merchant *models.Merchant, candidate *models.Aggregator, rate, feePct decimal.Decimal, value int64, resp *gateway.DealResponse) (*models.Deal, error) {
	var deal *models.Deal
	err := r.store.RunInTx(ctx, func(tx Tx) error {
		agg, err := tx.GetAggregatorForUpdate(ctx, candidate.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if reason := r.aggregatorEligible(agg, value, now); reason != "" {
			return fmt.Errorf("aggregator no longer eligible: %s", reason)
		}

		aggFeePct, err := r.fees.Resolve(ctx, tx, agg.ID, merchant.ID, req.Method, req.AmountMicros, models.FeeDirectionIn)
		if err != nil {
			return err
		}
		cost := value + domain.PercentOfMicros(value, aggFeePct)
		if agg.BalanceMicros < cost {
			return fmt.Errorf("%w: balance %d below cost %d", models.ErrInsufficientBalance, agg.BalanceMicros, cost)
		}

		if err := tx.AddAggregatorBalance(ctx, agg.ID, -cost); err != nil {
			return fmt.Errorf("deduct aggregator balance: %w", err)
		}
		if err := tx.MarkAggregatorUsed(ctx, agg.ID, now, value); err != nil {
			return fmt.Errorf("mark aggregator used: %w", err)
		}

		aggID := agg.ID
		deal = &models.Deal{
			ID:            uuid.New(),
			MerchantID:    merchant.ID,
			OrderID:       req.OrderID,
			AmountMicros:  req.AmountMicros,
			Currency:      req.Currency,
			Method:        req.Method,
			Status:        domain.DealStatusCreated,
			Rate:          rate,
			FeePercent:    feePct,
			Traffic:       req.Traffic,
			ClientID:      req.ClientID,
			AggregatorID:  &aggID,
			PartnerDealID: resp.PartnerDealID,
			Details: &models.PaymentDetails{
				Bank:          resp.Bank,
				AccountNumber: resp.AccountNumber,
				Holder:        resp.Holder,
			},
			CallbackURL: req.CallbackURL,
			CreatedAt:   now,
			ExpiresAt:   req.ExpiresAt,
		}
		if err := tx.CreateDeal(ctx, deal); err != nil {
			return fmt.Errorf("create deal: %w", err)
		}
		return writeAudit(ctx, tx, "deal", deal.ID, "created", "", string(domain.DealStatusCreated),
			map[string]any{"fulfillment": "aggregator", "aggregator_id": aggID.String(), "partner_deal_id": resp.PartnerDealID})
	})
	if err != nil {
		return nil, err
	}
	return deal, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
