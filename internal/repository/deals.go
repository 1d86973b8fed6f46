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

const dealColumns = `id, merchant_id, order_id, amount_micros, currency, method,
	status, rate::text, fee_percent::text, traffic, client_id, collateral_micros,
	trader_id, requisite_id, aggregator_id, partner_deal_id,
	bank, account_number, holder, callback_url,
	created_at, accepted_at, expires_at`

func (q *Queries) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	row := q.db.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	return scanDeal(row)
}

func (q *Queries) GetDealForUpdate(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	row := q.db.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
	return scanDeal(row)
}

func (q *Queries) GetDealByOrderID(ctx context.Context, merchantID uuid.UUID, orderID string) (*models.Deal, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE merchant_id = $1 AND order_id = $2`,
		merchantID, orderID)
	deal, err := scanDeal(row)
	if errors.Is(err, models.ErrDealNotFound) {
		return nil, nil
	}
	return deal, err
}

func (q *Queries) GetDealByPartnerID(ctx context.Context, partnerDealID string) (*models.Deal, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE partner_deal_id = $1`, partnerDealID)
	deal, err := scanDeal(row)
	if errors.Is(err, models.ErrDealNotFound) {
		return nil, nil
	}
	return deal, err
}

func (q *Queries) CreateDeal(ctx context.Context, d *models.Deal) error {
	var bank, account, holder string
	if d.Details != nil {
		bank, account, holder = d.Details.Bank, d.Details.AccountNumber, d.Details.Holder
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO deals (
			id, merchant_id, order_id, amount_micros, currency, method,
			status, rate, fee_percent, traffic, client_id, collateral_micros,
			trader_id, requisite_id, aggregator_id, partner_deal_id,
			bank, account_number, holder, callback_url,
			created_at, accepted_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		d.ID, d.MerchantID, d.OrderID, d.AmountMicros, d.Currency, d.Method,
		string(d.Status), d.Rate.String(), d.FeePercent.String(), string(d.Traffic), d.ClientID, d.CollateralMicros,
		d.TraderID, d.RequisiteID, d.AggregatorID, d.PartnerDealID,
		bank, account, holder, d.CallbackURL,
		d.CreatedAt, d.AcceptedAt, d.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (q *Queries) UpdateDeal(ctx context.Context, d *models.Deal) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE deals SET
			status = $2, collateral_micros = $3, accepted_at = $4,
			partner_deal_id = $5
		WHERE id = $1`,
		d.ID, string(d.Status), d.CollateralMicros, d.AcceptedAt, d.PartnerDealID)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	return requireExactlyOne(tag, "update deal")
}

func (q *Queries) ListDealsPastExpiry(ctx context.Context, now time.Time, limit int32) ([]models.Deal, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status IN ($1, $2) AND expires_at < $3
		ORDER BY expires_at ASC
		LIMIT $4`,
		string(domain.DealStatusCreated), string(domain.DealStatusInProgress), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list deals past expiry: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, rows.Err()
}

func (q *Queries) RecordTransition(ctx context.Context, dealID uuid.UUID, from, to domain.DealStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO deal_transitions (deal_id, from_status, to_status, applied_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (deal_id, to_status) DO NOTHING`,
		dealID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("record transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) RequisiteHasActiveDeal(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deals
			WHERE requisite_id = $1 AND status IN ($2, $3, $4)
		)`,
		id, string(domain.DealStatusCreated), string(domain.DealStatusInProgress), string(domain.DealStatusDispute)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check requisite active deal: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	var (
		d                     models.Deal
		status, traffic       string
		rateText, feeText     string
		bank, account, holder string
	)
	err := row.Scan(
		&d.ID, &d.MerchantID, &d.OrderID, &d.AmountMicros, &d.Currency, &d.Method,
		&status, &rateText, &feeText, &traffic, &d.ClientID, &d.CollateralMicros,
		&d.TraderID, &d.RequisiteID, &d.AggregatorID, &d.PartnerDealID,
		&bank, &account, &holder, &d.CallbackURL,
		&d.CreatedAt, &d.AcceptedAt, &d.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDealNotFound
		}
		return nil, fmt.Errorf("scan deal: %w", err)
	}

	d.Status = domain.DealStatus(status)
	d.Traffic = domain.TrafficType(traffic)
	if d.Rate, err = decimal.NewFromString(rateText); err != nil {
		return nil, fmt.Errorf("parse deal rate: %w", err)
	}
	if d.FeePercent, err = decimal.NewFromString(feeText); err != nil {
		return nil, fmt.Errorf("parse deal fee percent: %w", err)
	}
	if bank != "" || account != "" || holder != "" {
		d.Details = &models.PaymentDetails{Bank: bank, AccountNumber: account, Holder: holder}
	}
	return &d, nil
}
