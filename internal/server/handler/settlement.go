package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradeforge/indexcore/internal/domain"
)

// SettlementService defines the methods the settlement handler requires from
// the service layer.
type SettlementService interface {
	GetSettlementStatus(ctx context.Context, id string) (domain.SettlementStatus, error)
}

// SettlementHandler serves settlement status endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service
// and logger.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlements"),
	}
}

// GetStatus returns the current status of a settlement request.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing settlement id")
		return
	}

	status, err := h.settlements.GetSettlementStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get settlement status failed",
			slog.String("settlement_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get settlement status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
