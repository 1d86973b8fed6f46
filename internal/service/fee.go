package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylane/dealflow/internal/models"
)

// FeeResolver resolves the commission percentage for a
// (principal, merchant, method, amount) tuple: flat percents unless banded
// fees are enabled, in which case the matching amount band wins.
type FeeResolver struct {
	defaultIn  decimal.Decimal
	defaultOut decimal.Decimal
}

func NewFeeResolver(defaultIn, defaultOut decimal.Decimal) *FeeResolver {
	return &FeeResolver{defaultIn: defaultIn, defaultOut: defaultOut}
}

// Resolve returns the commission percent. A missing configuration falls
// back to the platform defaults rather than failing the deal.
func (f *FeeResolver) Resolve(ctx context.Context, q Tx, principalID, merchantID uuid.UUID, method string, amountMicros int64, direction models.FeeDirection) (decimal.Decimal, error) {
	cfg, err := q.GetFeeConfig(ctx, principalID, merchantID, method)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load fee config: %w", err)
	}
	if cfg == nil {
		return f.platformDefault(direction), nil
	}

	if cfg.Banded {
		for _, band := range cfg.Ranges {
			if band.MinMicros <= amountMicros && amountMicros <= band.MaxMicros {
				return bandPercent(band, direction), nil
			}
		}
	}
	return flatPercent(cfg, direction), nil
}

func (f *FeeResolver) platformDefault(direction models.FeeDirection) decimal.Decimal {
	if direction == models.FeeDirectionOut {
		return f.defaultOut
	}
	return f.defaultIn
}

func flatPercent(cfg *models.FeeConfig, direction models.FeeDirection) decimal.Decimal {
	if direction == models.FeeDirectionOut {
		return cfg.FlatOut
	}
	return cfg.FlatIn
}

func bandPercent(band models.FeeRange, direction models.FeeDirection) decimal.Decimal {
	if direction == models.FeeDirectionOut {
		return band.OutPercent
	}
	return band.InPercent
}

// ValidateFeeConfig rejects malformed or overlapping amount bands. Bands
// are validated at write time so the read path can trust them.
func ValidateFeeConfig(cfg *models.FeeConfig) error {
	if cfg.FlatIn.IsNegative() || cfg.FlatOut.IsNegative() {
		return fmt.Errorf("flat fee percent must not be negative")
	}
	ranges := make([]models.FeeRange, len(cfg.Ranges))
	copy(ranges, cfg.Ranges)
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].MinMicros < ranges[j].MinMicros
	})

	for i, band := range ranges {
		if band.MinMicros < 0 || band.MaxMicros < band.MinMicros {
			return fmt.Errorf("band %d: invalid bounds [%d, %d]", i, band.MinMicros, band.MaxMicros)
		}
		if band.InPercent.IsNegative() || band.OutPercent.IsNegative() {
			return fmt.Errorf("band %d: fee percent must not be negative", i)
		}
		if i > 0 && band.MinMicros <= ranges[i-1].MaxMicros {
			return fmt.Errorf("%w: [%d, %d] and [%d, %d]",
				models.ErrOverlappingFeeRanges,
				ranges[i-1].MinMicros, ranges[i-1].MaxMicros,
				band.MinMicros, band.MaxMicros)
		}
	}
	return nil
}

// SaveFeeConfig validates and persists a fee configuration.
func SaveFeeConfig(ctx context.Context, store Store, cfg *models.FeeConfig) error {
	if err := ValidateFeeConfig(cfg); err != nil {
		return err
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	return store.RunInTx(ctx, func(tx Tx) error {
		return tx.UpsertFeeConfig(ctx, cfg)
	})
}
