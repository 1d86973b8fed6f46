package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

// memStore is an in-memory Store for service tests. It applies writes
// directly, so a failed unit of work is not rolled back; tests that care
// assert on the transition guard instead.
type memStore struct {
	mu sync.Mutex

	deals       map[uuid.UUID]*models.Deal
	merchants   map[uuid.UUID]*models.Merchant
	traders     map[uuid.UUID]*models.Trader
	requisites  map[uuid.UUID]*models.Requisite
	aggregators map[uuid.UUID]*models.Aggregator
	counters    map[uuid.UUID]models.Counters
	feeConfigs  map[string]*models.FeeConfig
	rateSources map[uuid.UUID]*models.RateSource
	defaultSrc  *models.RateSource
	disputes    map[uuid.UUID]*models.Dispute
	transitions map[uuid.UUID]map[domain.DealStatus]bool
	auditCount  int
}

func newMemStore() *memStore {
	return &memStore{
		deals:       make(map[uuid.UUID]*models.Deal),
		merchants:   make(map[uuid.UUID]*models.Merchant),
		traders:     make(map[uuid.UUID]*models.Trader),
		requisites:  make(map[uuid.UUID]*models.Requisite),
		aggregators: make(map[uuid.UUID]*models.Aggregator),
		counters:    make(map[uuid.UUID]models.Counters),
		feeConfigs:  make(map[string]*models.FeeConfig),
		rateSources: make(map[uuid.UUID]*models.RateSource),
		disputes:    make(map[uuid.UUID]*models.Dispute),
		transitions: make(map[uuid.UUID]map[domain.DealStatus]bool),
	}
}

func (s *memStore) Reader() Tx { return &memTx{s: s} }

func (s *memStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

type memTx struct {
	s *memStore
}

func copyDeal(d *models.Deal) *models.Deal {
	cp := *d
	if d.Details != nil {
		details := *d.Details
		cp.Details = &details
	}
	return &cp
}

func (t *memTx) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	deal, ok := t.s.deals[id]
	if !ok {
		return nil, models.ErrDealNotFound
	}
	return copyDeal(deal), nil
}

func (t *memTx) GetDealForUpdate(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return t.GetDeal(ctx, id)
}

func (t *memTx) GetDealByOrderID(ctx context.Context, merchantID uuid.UUID, orderID string) (*models.Deal, error) {
	for _, deal := range t.s.deals {
		if deal.MerchantID == merchantID && deal.OrderID == orderID {
			return copyDeal(deal), nil
		}
	}
	return nil, nil
}

func (t *memTx) GetDealByPartnerID(ctx context.Context, partnerDealID string) (*models.Deal, error) {
	for _, deal := range t.s.deals {
		if deal.PartnerDealID == partnerDealID {
			return copyDeal(deal), nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateDeal(ctx context.Context, deal *models.Deal) error {
	t.s.deals[deal.ID] = copyDeal(deal)
	return nil
}

func (t *memTx) UpdateDeal(ctx context.Context, deal *models.Deal) error {
	t.s.deals[deal.ID] = copyDeal(deal)
	return nil
}

func (t *memTx) ListDealsPastExpiry(ctx context.Context, now time.Time, limit int32) ([]models.Deal, error) {
	var out []models.Deal
	for _, deal := range t.s.deals {
		if (deal.Status == domain.DealStatusCreated || deal.Status == domain.DealStatusInProgress) &&
			deal.ExpiresAt.Before(now) {
			out = append(out, *copyDeal(deal))
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) RecordTransition(ctx context.Context, dealID uuid.UUID, from, to domain.DealStatus) (bool, error) {
	seen := t.s.transitions[dealID]
	if seen == nil {
		seen = make(map[domain.DealStatus]bool)
		t.s.transitions[dealID] = seen
	}
	if seen[to] {
		return false, nil
	}
	seen[to] = true
	return true, nil
}

func (t *memTx) GetMerchant(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	m, ok := t.s.merchants[id]
	if !ok {
		return nil, models.ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) GetMerchantForUpdate(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	return t.GetMerchant(ctx, id)
}

func (t *memTx) AddMerchantBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error {
	m, ok := t.s.merchants[id]
	if !ok {
		return models.ErrMerchantNotFound
	}
	m.BalanceMicros += deltaMicros
	return nil
}

func (t *memTx) GetTrader(ctx context.Context, id uuid.UUID) (*models.Trader, error) {
	tr, ok := t.s.traders[id]
	if !ok {
		return nil, models.ErrTraderNotFound
	}
	cp := *tr
	return &cp, nil
}

func (t *memTx) GetTraderForUpdate(ctx context.Context, id uuid.UUID) (*models.Trader, error) {
	return t.GetTrader(ctx, id)
}

func (t *memTx) AddTraderBalances(ctx context.Context, id uuid.UUID, trustDelta, frozenDelta, depositDelta int64) error {
	tr, ok := t.s.traders[id]
	if !ok {
		return models.ErrTraderNotFound
	}
	tr.TrustMicros += trustDelta
	tr.FrozenMicros += frozenDelta
	tr.DepositMicros += depositDelta
	return nil
}

func (t *memTx) TraderMerchantMethodEnabled(ctx context.Context, traderID, merchantID uuid.UUID, method string) (bool, error) {
	return true, nil
}

func (t *memTx) MerchantBlacklistsTrader(ctx context.Context, merchantID, traderID uuid.UUID) (bool, error) {
	return false, nil
}

func (t *memTx) GetRequisiteForUpdate(ctx context.Context, id uuid.UUID) (*models.Requisite, error) {
	r, ok := t.s.requisites[id]
	if !ok {
		return nil, models.ErrRequisiteNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) ListCandidateRequisites(ctx context.Context, method string, amountMicros int64) ([]models.Requisite, error) {
	var out []models.Requisite
	for _, r := range t.s.requisites {
		trader, ok := t.s.traders[r.TraderID]
		if !ok || trader.Banned || !trader.TrafficEnabled || !trader.FilterEnabled {
			continue
		}
		if r.Method != method || !r.Active || r.Archived {
			continue
		}
		if amountMicros < r.MinAmountMicros || amountMicros > r.MaxAmountMicros {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastAssignedAt, out[j].LastAssignedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID.String() < out[j].ID.String()
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return out[i].ID.String() < out[j].ID.String()
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (t *memTx) TouchRequisite(ctx context.Context, id uuid.UUID, at time.Time) error {
	r, ok := t.s.requisites[id]
	if !ok {
		return models.ErrRequisiteNotFound
	}
	at = at.UTC()
	r.LastAssignedAt = &at
	return nil
}

func (t *memTx) RequisiteHasActiveDeal(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, deal := range t.s.deals {
		if deal.RequisiteID == nil || *deal.RequisiteID != id {
			continue
		}
		switch deal.Status {
		case domain.DealStatusCreated, domain.DealStatusInProgress, domain.DealStatusDispute:
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetAggregator(ctx context.Context, id uuid.UUID) (*models.Aggregator, error) {
	a, ok := t.s.aggregators[id]
	if !ok {
		return nil, models.ErrAggregatorNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) GetAggregatorForUpdate(ctx context.Context, id uuid.UUID) (*models.Aggregator, error) {
	return t.GetAggregator(ctx, id)
}

func (t *memTx) ListActiveAggregators(ctx context.Context) ([]models.Aggregator, error) {
	var out []models.Aggregator
	for _, a := range t.s.aggregators {
		if !a.Active || a.Endpoint == "" {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		a, b := out[i].LastUsedAt, out[j].LastUsedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID.String() < out[j].ID.String()
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (t *memTx) AddAggregatorBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error {
	a, ok := t.s.aggregators[id]
	if !ok {
		return models.ErrAggregatorNotFound
	}
	a.BalanceMicros += deltaMicros
	return nil
}

func (t *memTx) MarkAggregatorUsed(ctx context.Context, id uuid.UUID, at time.Time, dailyVolumeDeltaMicros int64) error {
	a, ok := t.s.aggregators[id]
	if !ok {
		return models.ErrAggregatorNotFound
	}
	at = at.UTC()
	day := at.Truncate(24 * time.Hour)
	if !a.DailyVolumeDate.Equal(day) {
		a.DailyVolumeDate = day
		a.DailyVolumeMicros = 0
	}
	a.DailyVolumeMicros += dailyVolumeDeltaMicros
	a.LastUsedAt = &at
	return nil
}

func (t *memTx) AddCounters(ctx context.Context, principalID uuid.UUID, delta models.Counters) error {
	c := t.s.counters[principalID]
	c.UnassignableMicros += delta.UnassignableMicros
	c.CompletedMicros += delta.CompletedMicros
	c.ExpiredMicros += delta.ExpiredMicros
	c.MarginMicros += delta.MarginMicros
	t.s.counters[principalID] = c
	return nil
}

func (t *memTx) GetCounters(ctx context.Context, principalID uuid.UUID) (models.Counters, error) {
	return t.s.counters[principalID], nil
}

func feeKey(principalID, merchantID uuid.UUID, method string) string {
	return principalID.String() + "|" + merchantID.String() + "|" + method
}

func (t *memTx) GetFeeConfig(ctx context.Context, principalID, merchantID uuid.UUID, method string) (*models.FeeConfig, error) {
	cfg, ok := t.s.feeConfigs[feeKey(principalID, merchantID, method)]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	cp.Ranges = append([]models.FeeRange(nil), cfg.Ranges...)
	return &cp, nil
}

func (t *memTx) UpsertFeeConfig(ctx context.Context, cfg *models.FeeConfig) error {
	cp := *cfg
	cp.Ranges = append([]models.FeeRange(nil), cfg.Ranges...)
	t.s.feeConfigs[feeKey(cfg.PrincipalID, cfg.MerchantID, cfg.Method)] = &cp
	return nil
}

func (t *memTx) GetRateSource(ctx context.Context, id uuid.UUID) (*models.RateSource, error) {
	src, ok := t.s.rateSources[id]
	if !ok {
		return nil, nil
	}
	cp := *src
	return &cp, nil
}

func (t *memTx) GetDefaultRateSource(ctx context.Context) (*models.RateSource, error) {
	if t.s.defaultSrc == nil {
		return nil, nil
	}
	cp := *t.s.defaultSrc
	return &cp, nil
}

func (t *memTx) CreateDispute(ctx context.Context, d *models.Dispute) error {
	cp := *d
	t.s.disputes[d.ID] = &cp
	return nil
}

func (t *memTx) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, ok := t.s.disputes[id]
	if !ok {
		return nil, models.ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *memTx) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return t.GetDispute(ctx, id)
}

func (t *memTx) GetDisputeByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	for _, d := range t.s.disputes {
		if d.DealID == dealID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateDispute(ctx context.Context, d *models.Dispute) error {
	cp := *d
	t.s.disputes[d.ID] = &cp
	return nil
}

func (t *memTx) InsertAudit(ctx context.Context, entityType string, entityID uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	t.s.auditCount++
	return nil
}

var _ Store = (*memStore)(nil)
var _ Tx = (*memTx)(nil)
