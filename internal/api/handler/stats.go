package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/service"
)

// StatsHandler serves principal volume counters and success rates.
type StatsHandler struct {
	stats *service.Stats
}

func NewStatsHandler(stats *service.Stats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetStats handles GET /v1/principals/{id}/stats
// Principals may read their own stats; admins may read any.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestPrincipal(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	principalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-principal-id", "Invalid principal ID")
		return
	}
	if !isAdmin && principalID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	stats, err := h.stats.Get(r.Context(), principalID)
	if err != nil {
		zap.L().Error("get stats failed", zap.Error(err), zap.String("principal_id", principalID.String()))
		RespondError(w, r, http.StatusInternalServerError, "stats/get-failed", "Failed to load stats")
		return
	}

	RespondJSON(w, http.StatusOK, stats)
}
