package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/service"
)

// FeeConfigHandler manages commission configuration. Admin only.
type FeeConfigHandler struct {
	store service.Store
}

func NewFeeConfigHandler(store service.Store) *FeeConfigHandler {
	return &FeeConfigHandler{store: store}
}

// FeeRangeRequest is one banded commission tier.
type FeeRangeRequest struct {
	MinMicros  int64           `json:"min_micros"`
	MaxMicros  int64           `json:"max_micros"`
	InPercent  decimal.Decimal `json:"in_percent"`
	OutPercent decimal.Decimal `json:"out_percent"`
}

// UpsertFeeConfigRequest is the request body for PUT /v1/fee-configs.
type UpsertFeeConfigRequest struct {
	PrincipalID string            `json:"principal_id"`
	MerchantID  string            `json:"merchant_id"`
	Method      string            `json:"method"`
	FlatIn      decimal.Decimal   `json:"flat_in"`
	FlatOut     decimal.Decimal   `json:"flat_out"`
	Banded      bool              `json:"banded"`
	Ranges      []FeeRangeRequest `json:"ranges"`
}

// UpsertFeeConfig handles PUT /v1/fee-configs
func (h *FeeConfigHandler) UpsertFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req UpsertFeeConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-principal-id", "Invalid principal_id")
		return
	}
	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-merchant-id", "Invalid merchant_id")
		return
	}
	if req.Method == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-method", "method is required")
		return
	}

	cfg := &models.FeeConfig{
		ID:          uuid.New(),
		PrincipalID: principalID,
		MerchantID:  merchantID,
		Method:      req.Method,
		FlatIn:      req.FlatIn,
		FlatOut:     req.FlatOut,
		Banded:      req.Banded,
	}
	for _, band := range req.Ranges {
		cfg.Ranges = append(cfg.Ranges, models.FeeRange{
			ID:         uuid.New(),
			MinMicros:  band.MinMicros,
			MaxMicros:  band.MaxMicros,
			InPercent:  band.InPercent,
			OutPercent: band.OutPercent,
		})
	}

	if err := service.SaveFeeConfig(r.Context(), h.store, cfg); err != nil {
		if errors.Is(err, models.ErrOverlappingFeeRanges) {
			RespondError(w, r, http.StatusBadRequest, "fee-config/overlapping-ranges", err.Error())
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("upsert fee config failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "fee-config/save-failed", "Failed to save fee config")
		return
	}

	RespondJSON(w, http.StatusOK, cfg)
}
