package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/service"
)

// DisputeHandler handles the dispute lifecycle.
type DisputeHandler struct {
	disputes *service.Disputes
}

func NewDisputeHandler(disputes *service.Disputes) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// OpenDispute handles POST /v1/disputes
func (h *DisputeHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DealID string `json:"deal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	dealID, err := uuid.Parse(req.DealID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deal-id", "Invalid deal_id")
		return
	}

	dispute, err := h.disputes.Open(r.Context(), dealID)
	if err != nil {
		if errors.Is(err, models.ErrDealNotFound) {
			RespondError(w, r, http.StatusNotFound, "dispute/deal-not-found", "deal not found")
			return
		}
		if errors.Is(err, models.ErrInvalidStatusTransition) {
			RespondError(w, r, http.StatusConflict, "dispute/invalid-transition", err.Error())
			return
		}
		zap.L().Error("open dispute failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "dispute/open-failed", "Failed to open dispute")
		return
	}

	RespondJSON(w, http.StatusCreated, dispute)
}

// TakeDispute handles POST /v1/disputes/{id}/take
func (h *DisputeHandler) TakeDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-dispute-id", "Invalid dispute ID")
		return
	}

	dispute, err := h.disputes.Take(r.Context(), disputeID)
	if err != nil {
		if errors.Is(err, models.ErrDisputeNotFound) {
			RespondError(w, r, http.StatusNotFound, "dispute/not-found", "dispute not found")
			return
		}
		if errors.Is(err, models.ErrDisputeAlreadyResolved) {
			RespondError(w, r, http.StatusConflict, "dispute/already-resolved", err.Error())
			return
		}
		zap.L().Error("take dispute failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "dispute/take-failed", "Failed to take dispute")
		return
	}

	RespondJSON(w, http.StatusOK, dispute)
}

// ResolveDispute handles POST /v1/disputes/{id}/resolve
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-dispute-id", "Invalid dispute ID")
		return
	}

	var req struct {
		Favor     string `json:"favor"`
		Rationale string `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	favor := service.ResolutionFavor(req.Favor)
	if favor != service.FavorMerchant && favor != service.FavorTrader {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-favor", "favor must be merchant or trader")
		return
	}

	dispute, err := h.disputes.Resolve(r.Context(), disputeID, favor, req.Rationale)
	if err != nil {
		if errors.Is(err, models.ErrDisputeNotFound) {
			RespondError(w, r, http.StatusNotFound, "dispute/not-found", "dispute not found")
			return
		}
		if errors.Is(err, models.ErrDisputeAlreadyResolved) {
			RespondError(w, r, http.StatusConflict, "dispute/already-resolved", err.Error())
			return
		}
		zap.L().Error("resolve dispute failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "dispute/resolve-failed", "Failed to resolve dispute")
		return
	}

	RespondJSON(w, http.StatusOK, dispute)
}
