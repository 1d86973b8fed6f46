package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylane/dealflow/internal/domain"
)

// RateDirection controls whether a markup percent is added to or
// subtracted from the base market rate.
type RateDirection string

const (
	RateDirectionUp   RateDirection = "up"
	RateDirectionDown RateDirection = "down"
)

// FeeDirection distinguishes inbound (pay-in) from outbound (pay-out)
// commission percentages.
type FeeDirection string

const (
	FeeDirectionIn  FeeDirection = "in"
	FeeDirectionOut FeeDirection = "out"
)

// Merchant is the counterparty originating deals. Its settlement balance is
// kept in the settlement unit and credited by the ledger engine on READY.
type Merchant struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	CallbackURL     string    `json:"callback_url"`
	CallbackSecret  string    `json:"-"`
	BalanceMicros   int64     `json:"balance_micros"`
	RateSourceID    *uuid.UUID
	CustomPercent   *decimal.Decimal
	CustomDirection RateDirection
	CreatedAt       time.Time `json:"created_at"`
}

// Counters are the lifetime per-principal volume counters, in settlement
// unit micros. Monotonic: the ledger engine only ever increments them.
type Counters struct {
	UnassignableMicros int64 `json:"unassignable_micros"`
	CompletedMicros    int64 `json:"completed_micros"`
	ExpiredMicros      int64 `json:"expired_micros"`
	MarginMicros       int64 `json:"margin_micros"`
}

// Trader holds bank requisites and collateralizes assigned deals from its
// trust balance.
type Trader struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Banned         bool      `json:"banned"`
	TrafficEnabled bool      `json:"traffic_enabled"`

	TrustMicros   int64 `json:"trust_micros"`
	FrozenMicros  int64 `json:"frozen_micros"`
	DepositMicros int64 `json:"deposit_micros"`

	// Opt-in routing filters. A trader with FilterEnabled=false
	// participates in nothing.
	FilterEnabled  bool                 `json:"filter_enabled"`
	MerchantFilter []uuid.UUID          `json:"merchant_filter"`
	TrafficFilter  []domain.TrafficType `json:"traffic_filter"`

	RewardPercent decimal.Decimal `json:"reward_percent"`

	Counters
	CreatedAt time.Time `json:"created_at"`
}

// AllowsMerchant reports whether the merchant passes the trader's opt-in
// filter. An empty filter with filtering enabled admits every merchant.
func (t *Trader) AllowsMerchant(merchantID uuid.UUID) bool {
	if !t.FilterEnabled {
		return false
	}
	if len(t.MerchantFilter) == 0 {
		return true
	}
	for _, id := range t.MerchantFilter {
		if id == merchantID {
			return true
		}
	}
	return false
}

// AllowsTraffic reports whether the traffic classification passes the
// trader's opt-in filter.
func (t *Trader) AllowsTraffic(traffic domain.TrafficType) bool {
	if !t.FilterEnabled {
		return false
	}
	if len(t.TrafficFilter) == 0 {
		return true
	}
	for _, tt := range t.TrafficFilter {
		if tt == domain.TrafficTypeAny || tt == traffic {
			return true
		}
	}
	return false
}

// Aggregator is a remote fulfillment partner reached over its API.
type Aggregator struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Active   bool      `json:"active"`
	Endpoint string    `json:"endpoint"`
	APIKey   string    `json:"-"`

	Priority   int           `json:"priority"`
	SLATimeout time.Duration `json:"sla_timeout"`

	BalanceMicros     int64 `json:"balance_micros"`
	MinBalanceMicros  int64 `json:"min_balance_micros"`
	InsuranceRequired bool  `json:"insurance_required"`
	InsuranceMicros   int64 `json:"insurance_micros"`

	DailyCapMicros    int64      `json:"daily_cap_micros"`
	DailyVolumeMicros int64      `json:"daily_volume_micros"`
	DailyVolumeDate   time.Time  `json:"daily_volume_date"`
	LastUsedAt        *time.Time `json:"last_used_at"`

	Counters
	CreatedAt time.Time `json:"created_at"`
}

// PaymentDetails are the bank-transfer details handed to the payer.
type PaymentDetails struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	Holder        string `json:"holder"`
}

// Requisite is a trader-owned bank detail usable to fulfill one deal at a
// time, subject to a reassignment cooldown.
type Requisite struct {
	ID       uuid.UUID `json:"id"`
	TraderID uuid.UUID `json:"trader_id"`
	Method   string    `json:"method"`

	MinAmountMicros int64 `json:"min_amount_micros"`
	MaxAmountMicros int64 `json:"max_amount_micros"`

	Active   bool `json:"active"`
	Archived bool `json:"archived"`

	Cooldown       time.Duration `json:"cooldown"`
	LastAssignedAt *time.Time    `json:"last_assigned_at"`

	Details   PaymentDetails `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// FeeRange is one amount band of a banded fee configuration.
type FeeRange struct {
	ID         uuid.UUID       `json:"id"`
	MinMicros  int64           `json:"min_micros"`
	MaxMicros  int64           `json:"max_micros"`
	InPercent  decimal.Decimal `json:"in_percent"`
	OutPercent decimal.Decimal `json:"out_percent"`
}

// FeeConfig is the commission configuration for one
// (principal, merchant, method) tuple.
type FeeConfig struct {
	ID          uuid.UUID       `json:"id"`
	PrincipalID uuid.UUID       `json:"principal_id"`
	MerchantID  uuid.UUID       `json:"merchant_id"`
	Method      string          `json:"method"`
	FlatIn      decimal.Decimal `json:"flat_in"`
	FlatOut     decimal.Decimal `json:"flat_out"`
	Banded      bool            `json:"banded"`
	Ranges      []FeeRange      `json:"ranges"`
}

// RateSource is a market price feed with a default adjustment percent.
type RateSource struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	DefaultPercent decimal.Decimal `json:"default_percent"`
	Direction      RateDirection   `json:"direction"`
}

// Deal is a single exchange request. Never deleted: terminal deals remain
// as audit records.
type Deal struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	OrderID    string    `json:"order_id"`

	AmountMicros int64  `json:"amount_micros"`
	Currency     string `json:"currency"`
	Method       string `json:"method"`

	Status     domain.DealStatus  `json:"status"`
	Rate       decimal.Decimal    `json:"rate"`
	FeePercent decimal.Decimal    `json:"fee_percent"`
	Traffic    domain.TrafficType `json:"traffic"`
	ClientID   string             `json:"client_id"`

	// Set exactly once at assignment, cleared exactly once at terminal.
	CollateralMicros int64 `json:"collateral_micros"`

	TraderID      *uuid.UUID      `json:"trader_id,omitempty"`
	RequisiteID   *uuid.UUID      `json:"requisite_id,omitempty"`
	AggregatorID  *uuid.UUID      `json:"aggregator_id,omitempty"`
	PartnerDealID string          `json:"partner_deal_id,omitempty"`
	Details       *PaymentDetails `json:"details,omitempty"`

	CallbackURL string     `json:"callback_url"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Assigned reports whether a fulfillment party has been committed to the
// deal.
func (d *Deal) Assigned() bool {
	return d.TraderID != nil || d.AggregatorID != nil
}

// Dispute is an admin-mediated override of a deal's financial outcome,
// one-to-one with a deal.
type Dispute struct {
	ID     uuid.UUID            `json:"id"`
	DealID uuid.UUID            `json:"deal_id"`
	Status domain.DisputeStatus `json:"status"`
	// PriorStatus is the deal status at the moment the dispute froze it;
	// favor-trader resolution restores it.
	PriorStatus domain.DealStatus `json:"prior_status"`
	Rationale   string            `json:"rationale"`
	OpenedAt    time.Time         `json:"opened_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// DealTransition records an applied ledger transition; its uniqueness per
// (deal, to-status) is the engine's idempotency guard.
type DealTransition struct {
	DealID    uuid.UUID         `json:"deal_id"`
	From      domain.DealStatus `json:"from"`
	To        domain.DealStatus `json:"to"`
	AppliedAt time.Time         `json:"applied_at"`
}
