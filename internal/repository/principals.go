package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

// --- Merchants ---

const merchantColumns = `id, name, callback_url, callback_secret, balance_micros,
	rate_source_id, custom_percent::text, custom_direction, created_at`

func (q *Queries) GetMerchant(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	return q.scanMerchant(q.db.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
}

func (q *Queries) GetMerchantForUpdate(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	return q.scanMerchant(q.db.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) scanMerchant(row rowScanner) (*models.Merchant, error) {
	var (
		m             models.Merchant
		customPercent *string
		direction     *string
	)
	err := row.Scan(&m.ID, &m.Name, &m.CallbackURL, &m.CallbackSecret, &m.BalanceMicros,
		&m.RateSourceID, &customPercent, &direction, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMerchantNotFound
		}
		return nil, fmt.Errorf("scan merchant: %w", err)
	}
	if customPercent != nil {
		pct, err := decimal.NewFromString(*customPercent)
		if err != nil {
			return nil, fmt.Errorf("parse merchant custom percent: %w", err)
		}
		m.CustomPercent = &pct
	}
	if direction != nil {
		m.CustomDirection = models.RateDirection(*direction)
	}
	return &m, nil
}

func (q *Queries) AddMerchantBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE merchants SET balance_micros = balance_micros + $2 WHERE id = $1`,
		id, deltaMicros)
	if err != nil {
		return fmt.Errorf("update merchant balance: %w", err)
	}
	return requireExactlyOne(tag, "update merchant balance")
}

// --- Traders ---

const traderColumns = `id, name, banned, traffic_enabled,
	trust_micros, frozen_micros, deposit_micros,
	filter_enabled, merchant_filter, traffic_filter, reward_percent::text, created_at`

func (q *Queries) GetTrader(ctx context.Context, id uuid.UUID) (*models.Trader, error) {
	return q.scanTrader(q.db.QueryRow(ctx,
		`SELECT `+traderColumns+` FROM traders WHERE id = $1`, id))
}

func (q *Queries) GetTraderForUpdate(ctx context.Context, id uuid.UUID) (*models.Trader, error) {
	return q.scanTrader(q.db.QueryRow(ctx,
		`SELECT `+traderColumns+` FROM traders WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) scanTrader(row rowScanner) (*models.Trader, error) {
	var (
		t              models.Trader
		merchantFilter []string
		trafficFilter  []string
		rewardText     string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Banned, &t.TrafficEnabled,
		&t.TrustMicros, &t.FrozenMicros, &t.DepositMicros,
		&t.FilterEnabled, &merchantFilter, &trafficFilter, &rewardText, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTraderNotFound
		}
		return nil, fmt.Errorf("scan trader: %w", err)
	}
	for _, raw := range merchantFilter {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse merchant filter entry: %w", err)
		}
		t.MerchantFilter = append(t.MerchantFilter, id)
	}
	for _, raw := range trafficFilter {
		t.TrafficFilter = append(t.TrafficFilter, domain.TrafficType(raw))
	}
	if t.RewardPercent, err = decimal.NewFromString(rewardText); err != nil {
		return nil, fmt.Errorf("parse trader reward percent: %w", err)
	}
	return &t, nil
}

// AddTraderBalances applies trust, frozen and deposit deltas in a single
// statement so partial application is impossible.
func (q *Queries) AddTraderBalances(ctx context.Context, id uuid.UUID, trustDelta, frozenDelta, depositDelta int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE traders SET
			trust_micros = trust_micros + $2,
			frozen_micros = frozen_micros + $3,
			deposit_micros = deposit_micros + $4
		WHERE id = $1`,
		id, trustDelta, frozenDelta, depositDelta)
	if err != nil {
		return fmt.Errorf("update trader balances: %w", err)
	}
	return requireExactlyOne(tag, "update trader balances")
}

func (q *Queries) TraderMerchantMethodEnabled(ctx context.Context, traderID, merchantID uuid.UUID, method string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trader_merchant_methods
			WHERE trader_id = $1 AND merchant_id = $2 AND method = $3
		)`, traderID, merchantID, method).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trader pair: %w", err)
	}
	return exists, nil
}

func (q *Queries) MerchantBlacklistsTrader(ctx context.Context, merchantID, traderID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM merchant_trader_blacklist
			WHERE merchant_id = $1 AND trader_id = $2
		)`, merchantID, traderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check merchant blacklist: %w", err)
	}
	return exists, nil
}

// --- Requisites ---

const requisiteColumns = `id, trader_id, method, min_amount_micros, max_amount_micros,
	active, archived, cooldown_ms, last_assigned_at,
	bank, account_number, holder, created_at`

func (q *Queries) GetRequisiteForUpdate(ctx context.Context, id uuid.UUID) (*models.Requisite, error) {
	return q.scanRequisite(q.db.QueryRow(ctx,
		`SELECT `+requisiteColumns+` FROM requisites WHERE id = $1 FOR UPDATE`, id))
}

// ListCandidateRequisites applies the coarse SQL-side filter; the router
// re-validates the full criteria before committing. Least recently
// assigned first keeps assignment deterministic and fair.
func (q *Queries) ListCandidateRequisites(ctx context.Context, method string, amountMicros int64) ([]models.Requisite, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+requisiteColumns+`
		FROM requisites r
		WHERE r.active AND NOT r.archived
		  AND r.method = $1
		  AND r.min_amount_micros <= $2 AND $2 <= r.max_amount_micros
		  AND EXISTS (
			SELECT 1 FROM traders t
			WHERE t.id = r.trader_id
			  AND NOT t.banned AND t.traffic_enabled AND t.filter_enabled
		  )
		ORDER BY r.last_assigned_at ASC NULLS FIRST, r.id ASC`,
		method, amountMicros)
	if err != nil {
		return nil, fmt.Errorf("list candidate requisites: %w", err)
	}
	defer rows.Close()

	var requisites []models.Requisite
	for rows.Next() {
		req, err := q.scanRequisite(rows)
		if err != nil {
			return nil, err
		}
		requisites = append(requisites, *req)
	}
	return requisites, rows.Err()
}

func (q *Queries) scanRequisite(row rowScanner) (*models.Requisite, error) {
	var (
		r          models.Requisite
		cooldownMS int64
	)
	err := row.Scan(&r.ID, &r.TraderID, &r.Method, &r.MinAmountMicros, &r.MaxAmountMicros,
		&r.Active, &r.Archived, &cooldownMS, &r.LastAssignedAt,
		&r.Details.Bank, &r.Details.AccountNumber, &r.Details.Holder, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRequisiteNotFound
		}
		return nil, fmt.Errorf("scan requisite: %w", err)
	}
	r.Cooldown = time.Duration(cooldownMS) * time.Millisecond
	return &r, nil
}

func (q *Queries) TouchRequisite(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE requisites SET last_assigned_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch requisite: %w", err)
	}
	return requireExactlyOne(tag, "touch requisite")
}

// --- Aggregators ---

const aggregatorColumns = `id, name, active, endpoint, api_key, priority, sla_timeout_ms,
	balance_micros, min_balance_micros, insurance_required, insurance_micros,
	daily_cap_micros, daily_volume_micros, daily_volume_date, last_used_at, created_at`

func (q *Queries) GetAggregator(ctx context.Context, id uuid.UUID) (*models.Aggregator, error) {
	return q.scanAggregator(q.db.QueryRow(ctx,
		`SELECT `+aggregatorColumns+` FROM aggregators WHERE id = $1`, id))
}

func (q *Queries) GetAggregatorForUpdate(ctx context.Context, id uuid.UUID) (*models.Aggregator, error) {
	return q.scanAggregator(q.db.QueryRow(ctx,
		`SELECT `+aggregatorColumns+` FROM aggregators WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) ListActiveAggregators(ctx context.Context) ([]models.Aggregator, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+aggregatorColumns+`
		FROM aggregators
		WHERE active AND endpoint <> ''
		ORDER BY priority DESC, last_used_at ASC NULLS FIRST, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active aggregators: %w", err)
	}
	defer rows.Close()

	var aggregators []models.Aggregator
	for rows.Next() {
		agg, err := q.scanAggregator(rows)
		if err != nil {
			return nil, err
		}
		aggregators = append(aggregators, *agg)
	}
	return aggregators, rows.Err()
}

func (q *Queries) scanAggregator(row rowScanner) (*models.Aggregator, error) {
	var (
		a     models.Aggregator
		slaMS int64
	)
	err := row.Scan(&a.ID, &a.Name, &a.Active, &a.Endpoint, &a.APIKey, &a.Priority, &slaMS,
		&a.BalanceMicros, &a.MinBalanceMicros, &a.InsuranceRequired, &a.InsuranceMicros,
		&a.DailyCapMicros, &a.DailyVolumeMicros, &a.DailyVolumeDate, &a.LastUsedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAggregatorNotFound
		}
		return nil, fmt.Errorf("scan aggregator: %w", err)
	}
	a.SLATimeout = time.Duration(slaMS) * time.Millisecond
	return &a, nil
}

func (q *Queries) AddAggregatorBalance(ctx context.Context, id uuid.UUID, deltaMicros int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE aggregators SET balance_micros = balance_micros + $2 WHERE id = $1`,
		id, deltaMicros)
	if err != nil {
		return fmt.Errorf("update aggregator balance: %w", err)
	}
	return requireExactlyOne(tag, "update aggregator balance")
}

// MarkAggregatorUsed bumps the round-robin timestamp and the daily volume
// window, resetting the window on day rollover.
func (q *Queries) MarkAggregatorUsed(ctx context.Context, id uuid.UUID, at time.Time, dailyVolumeDeltaMicros int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE aggregators SET
			last_used_at = $2,
			daily_volume_micros = CASE
				WHEN daily_volume_date = $3::date THEN daily_volume_micros + $4
				ELSE $4
			END,
			daily_volume_date = $3::date
		WHERE id = $1`,
		id, at, at, dailyVolumeDeltaMicros)
	if err != nil {
		return fmt.Errorf("mark aggregator used: %w", err)
	}
	return requireExactlyOne(tag, "mark aggregator used")
}

// --- Lifetime counters ---

func (q *Queries) AddCounters(ctx context.Context, principalID uuid.UUID, delta models.Counters) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO principal_counters (
			principal_id, unassignable_micros, completed_micros, expired_micros, margin_micros
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE SET
			unassignable_micros = principal_counters.unassignable_micros + EXCLUDED.unassignable_micros,
			completed_micros = principal_counters.completed_micros + EXCLUDED.completed_micros,
			expired_micros = principal_counters.expired_micros + EXCLUDED.expired_micros,
			margin_micros = principal_counters.margin_micros + EXCLUDED.margin_micros`,
		principalID, delta.UnassignableMicros, delta.CompletedMicros, delta.ExpiredMicros, delta.MarginMicros)
	if err != nil {
		return fmt.Errorf("add counters: %w", err)
	}
	return nil
}

func (q *Queries) GetCounters(ctx context.Context, principalID uuid.UUID) (models.Counters, error) {
	var c models.Counters
	err := q.db.QueryRow(ctx, `
		SELECT unassignable_micros, completed_micros, expired_micros, margin_micros
		FROM principal_counters WHERE principal_id = $1`, principalID).
		Scan(&c.UnassignableMicros, &c.CompletedMicros, &c.ExpiredMicros, &c.MarginMicros)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counters{}, nil
		}
		return models.Counters{}, fmt.Errorf("get counters: %w", err)
	}
	return c, nil
}
