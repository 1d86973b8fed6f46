package handler

import (
	"crypto/hmac"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/service"
)

// CallbackHandler receives status callbacks from partner aggregators.
type CallbackHandler struct {
	callbacks     *service.PartnerCallbacks
	hmacKey       string
	skipSignature bool
}

func NewCallbackHandler(callbacks *service.PartnerCallbacks, hmacKey string, skipSignature bool) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks, hmacKey: hmacKey, skipSignature: skipSignature}
}

// HandlePartnerCallback handles POST /v1/callbacks/partner
// It verifies the HMAC signature and forwards the status to the ledger.
func (h *CallbackHandler) HandlePartnerCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read partner callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if !h.skipSignature {
		signature := r.Header.Get("X-Signature")
		expected := service.SignPayload(h.hmacKey, body)
		if signature == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
			RespondError(w, r, http.StatusUnauthorized, "callback/invalid-signature", "Invalid signature")
			return
		}
	}

	deal, err := h.callbacks.Handle(r.Context(), body)
	if err != nil {
		if errors.Is(err, models.ErrDealNotFound) {
			RespondError(w, r, http.StatusNotFound, "callback/deal-not-found", "deal not found")
			return
		}
		if errors.Is(err, models.ErrInvalidStatusTransition) {
			RespondError(w, r, http.StatusConflict, "callback/invalid-transition", err.Error())
			return
		}
		zap.L().Error("process partner callback failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "callback/rejected", err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"id":     deal.ID.String(),
		"status": string(deal.Status),
	})
}
