package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/paylane/dealflow/internal/models"
)

// GetFeeConfig loads the fee configuration with its bands. Returns
// (nil, nil) when the tuple has no configuration.
func (q *Queries) GetFeeConfig(ctx context.Context, principalID, merchantID uuid.UUID, method string) (*models.FeeConfig, error) {
	var (
		cfg              models.FeeConfig
		flatIn, flatOut  string
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, principal_id, merchant_id, method, flat_in::text, flat_out::text, banded
		FROM fee_configs
		WHERE principal_id = $1 AND merchant_id = $2 AND method = $3`,
		principalID, merchantID, method).
		Scan(&cfg.ID, &cfg.PrincipalID, &cfg.MerchantID, &cfg.Method, &flatIn, &flatOut, &cfg.Banded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fee config: %w", err)
	}
	if cfg.FlatIn, err = decimal.NewFromString(flatIn); err != nil {
		return nil, fmt.Errorf("parse flat in percent: %w", err)
	}
	if cfg.FlatOut, err = decimal.NewFromString(flatOut); err != nil {
		return nil, fmt.Errorf("parse flat out percent: %w", err)
	}

	rows, err := q.db.Query(ctx, `
		SELECT id, min_micros, max_micros, in_percent::text, out_percent::text
		FROM fee_ranges
		WHERE config_id = $1
		ORDER BY min_micros ASC`, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("get fee ranges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			band           models.FeeRange
			inPct, outPct  string
		)
		if err := rows.Scan(&band.ID, &band.MinMicros, &band.MaxMicros, &inPct, &outPct); err != nil {
			return nil, fmt.Errorf("scan fee range: %w", err)
		}
		if band.InPercent, err = decimal.NewFromString(inPct); err != nil {
			return nil, fmt.Errorf("parse band in percent: %w", err)
		}
		if band.OutPercent, err = decimal.NewFromString(outPct); err != nil {
			return nil, fmt.Errorf("parse band out percent: %w", err)
		}
		cfg.Ranges = append(cfg.Ranges, band)
	}
	return &cfg, rows.Err()
}

// UpsertFeeConfig replaces the configuration and its bands. Band validity
// is enforced by the service layer before this is called.
func (q *Queries) UpsertFeeConfig(ctx context.Context, cfg *models.FeeConfig) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO fee_configs (id, principal_id, merchant_id, method, flat_in, flat_out, banded)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (principal_id, merchant_id, method) DO UPDATE SET
			flat_in = EXCLUDED.flat_in,
			flat_out = EXCLUDED.flat_out,
			banded = EXCLUDED.banded`,
		cfg.ID, cfg.PrincipalID, cfg.MerchantID, cfg.Method,
		cfg.FlatIn.String(), cfg.FlatOut.String(), cfg.Banded)
	if err != nil {
		return fmt.Errorf("upsert fee config: %w", err)
	}

	var configID uuid.UUID
	err = q.db.QueryRow(ctx,
		`SELECT id FROM fee_configs WHERE principal_id = $1 AND merchant_id = $2 AND method = $3`,
		cfg.PrincipalID, cfg.MerchantID, cfg.Method).Scan(&configID)
	if err != nil {
		return fmt.Errorf("load fee config id: %w", err)
	}

	if _, err := q.db.Exec(ctx, `DELETE FROM fee_ranges WHERE config_id = $1`, configID); err != nil {
		return fmt.Errorf("clear fee ranges: %w", err)
	}
	for _, band := range cfg.Ranges {
		if band.ID == uuid.Nil {
			band.ID = uuid.New()
		}
		_, err := q.db.Exec(ctx, `
			INSERT INTO fee_ranges (id, config_id, min_micros, max_micros, in_percent, out_percent)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)`,
			band.ID, configID, band.MinMicros, band.MaxMicros,
			band.InPercent.String(), band.OutPercent.String())
		if err != nil {
			return fmt.Errorf("insert fee range: %w", err)
		}
	}
	return nil
}

func (q *Queries) GetRateSource(ctx context.Context, id uuid.UUID) (*models.RateSource, error) {
	return q.scanRateSource(q.db.QueryRow(ctx, `
		SELECT id, code, default_percent::text, direction
		FROM rate_sources WHERE id = $1`, id))
}

func (q *Queries) GetDefaultRateSource(ctx context.Context) (*models.RateSource, error) {
	return q.scanRateSource(q.db.QueryRow(ctx, `
		SELECT id, code, default_percent::text, direction
		FROM rate_sources WHERE is_default LIMIT 1`))
}

func (q *Queries) scanRateSource(row rowScanner) (*models.RateSource, error) {
	var (
		source    models.RateSource
		pctText   string
		direction string
	)
	err := row.Scan(&source.ID, &source.Code, &pctText, &direction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rate source not found")
		}
		return nil, fmt.Errorf("scan rate source: %w", err)
	}
	if source.DefaultPercent, err = decimal.NewFromString(pctText); err != nil {
		return nil, fmt.Errorf("parse rate source percent: %w", err)
	}
	source.Direction = models.RateDirection(direction)
	return &source, nil
}
