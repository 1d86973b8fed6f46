package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

// PartnerCallbacks consumes inbound aggregator callbacks and drives ledger
// transitions. Two payload shapes are accepted: a minimal
// {id, amount_micros?, status} form and a richer
// {type, transaction_id, data:{status}} form. Both are idempotent against
// redelivery via the ledger engine's transition guard.
type PartnerCallbacks struct {
	store  Store
	ledger *Ledger
}

func NewPartnerCallbacks(store Store, ledger *Ledger) *PartnerCallbacks {
	return &PartnerCallbacks{store: store, ledger: ledger}
}

type minimalCallback struct {
	ID           string `json:"id"`
	AmountMicros *int64 `json:"amount_micros,omitempty"`
	Status       string `json:"status"`
}

type richCallback struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Data          struct {
		Status string `json:"status"`
	} `json:"data"`
}

// Handle parses the callback, maps the external status vocabulary onto the
// internal one, and applies the transition.
func (s *PartnerCallbacks) Handle(ctx context.Context, payload []byte) (*models.Deal, error) {
	var rich richCallback
	if err := json.Unmarshal(payload, &rich); err == nil && rich.Type != "" {
		return s.handleRich(ctx, rich)
	}

	var minimal minimalCallback
	if err := json.Unmarshal(payload, &minimal); err != nil {
		return nil, fmt.Errorf("invalid callback payload: %w", err)
	}
	if minimal.ID == "" || minimal.Status == "" {
		return nil, errors.New("callback requires id and status")
	}

	deal, err := s.findDeal(ctx, minimal.ID)
	if err != nil {
		return nil, err
	}
	if minimal.AmountMicros != nil && *minimal.AmountMicros != deal.AmountMicros {
		return nil, fmt.Errorf("callback amount %d does not match deal amount %d",
			*minimal.AmountMicros, deal.AmountMicros)
	}
	return s.applyExternal(ctx, deal, minimal.Status)
}

func (s *PartnerCallbacks) handleRich(ctx context.Context, cb richCallback) (*models.Deal, error) {
	if cb.TransactionID == "" {
		return nil, errors.New("callback requires transaction_id")
	}
	deal, err := s.findDeal(ctx, cb.TransactionID)
	if err != nil {
		return nil, err
	}

	switch cb.Type {
	case "deal_status":
		if cb.Data.Status == "" {
			return nil, errors.New("callback requires data.status")
		}
		return s.applyExternal(ctx, deal, cb.Data.Status)
	case "dispute":
		return s.ledger.Apply(ctx, deal.ID, domain.DealStatusDispute)
	}
	return nil, fmt.Errorf("unrecognized callback type %q", cb.Type)
}

// findDeal resolves the callback identifier: our deal id when it parses as
// a UUID, otherwise the partner-side deal id.
func (s *PartnerCallbacks) findDeal(ctx context.Context, id string) (*models.Deal, error) {
	reader := s.store.Reader()
	if parsed, err := uuid.Parse(id); err == nil {
		deal, err := reader.GetDeal(ctx, parsed)
		if err == nil {
			return deal, nil
		}
		if !errors.Is(err, models.ErrDealNotFound) {
			return nil, err
		}
	}
	deal, err := reader.GetDealByPartnerID(ctx, id)
	if err != nil {
		return nil, err
	}
	if deal == nil {
		return nil, models.ErrDealNotFound
	}
	return deal, nil
}

func (s *PartnerCallbacks) applyExternal(ctx context.Context, deal *models.Deal, external string) (*models.Deal, error) {
	status, err := domain.MapExternalStatus(external)
	if err != nil {
		zap.L().Error("unmapped external status",
			zap.String("deal_id", deal.ID.String()),
			zap.String("external_status", external))
		return nil, err
	}
	return s.ledger.Apply(ctx, deal.ID, status)
}
