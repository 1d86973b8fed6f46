package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
	"github.com/paylane/dealflow/internal/service"
)

// DealHandler handles deal creation and retrieval.
type DealHandler struct {
	router *service.Router
	store  service.Store
}

func NewDealHandler(router *service.Router, store service.Store) *DealHandler {
	return &DealHandler{router: router, store: store}
}

// CreateDealRequest is the request body for creating a deal.
type CreateDealRequest struct {
	OrderID      string `json:"order_id"`
	AmountMicros int64  `json:"amount_micros"`
	Currency     string `json:"currency"`
	Method       string `json:"method"`
	CallbackURL  string `json:"callback_url"`
	ClientID     string `json:"client_id"`
	Traffic      string `json:"traffic"`
	TTLSeconds   int64  `json:"ttl_seconds"`
}

// CreateDeal handles POST /v1/deals
// The authenticated merchant is the deal owner.
func (h *DealHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	merchantID, _, err := requestPrincipal(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.OrderID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-order-id", "order_id is required")
		return
	}
	if req.AmountMicros <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be greater than zero")
		return
	}
	if req.Currency == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-currency", "currency is required")
		return
	}
	if req.Method == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-method", "method is required")
		return
	}

	traffic := domain.TrafficTypePrimary
	switch req.Traffic {
	case "", string(domain.TrafficTypePrimary):
	case string(domain.TrafficTypeReturn):
		traffic = domain.TrafficTypeReturn
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid-traffic", "traffic must be primary or return")
		return
	}

	var expiresAt time.Time
	if req.TTLSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	}

	deal, err := h.router.CreateDeal(r.Context(), service.CreateDealRequest{
		MerchantID:   merchantID,
		OrderID:      req.OrderID,
		AmountMicros: req.AmountMicros,
		Currency:     req.Currency,
		Method:       req.Method,
		CallbackURL:  req.CallbackURL,
		ExpiresAt:    expiresAt,
		ClientID:     req.ClientID,
		Traffic:      traffic,
	})
	if err != nil {
		if errors.Is(err, models.ErrNoFulfillmentAvailable) {
			RespondError(w, r, http.StatusConflict, "deal/no-fulfillment-available", "no trader or aggregator can take this deal")
			return
		}
		if errors.Is(err, models.ErrMerchantNotFound) {
			RespondError(w, r, http.StatusNotFound, "deal/merchant-not-found", "merchant not found")
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("create deal failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "deal/create-failed", "Failed to create deal")
		return
	}

	RespondJSON(w, http.StatusCreated, deal)
}

// GetDeal handles GET /v1/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	principalID, isAdmin, err := requestPrincipal(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	dealID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deal-id", "Invalid deal ID")
		return
	}

	deal, err := h.store.Reader().GetDeal(r.Context(), dealID)
	if err != nil {
		if errors.Is(err, models.ErrDealNotFound) {
			RespondError(w, r, http.StatusNotFound, "deal/not-found", "deal not found")
			return
		}
		zap.L().Error("get deal failed", zap.Error(err), zap.String("deal_id", dealID.String()))
		RespondError(w, r, http.StatusInternalServerError, "deal/get-failed", "Failed to load deal")
		return
	}
	if !isAdmin && deal.MerchantID != principalID {
		RespondError(w, r, http.StatusNotFound, "deal/not-found", "deal not found")
		return
	}

	RespondJSON(w, http.StatusOK, deal)
}
