package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tradeforge/indexcore/internal/domain"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	ListTrades(ctx context.Context, pair string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves trade history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trades"),
	}
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns the most recent trades for a pair.
// GET /api/trades/{pair}?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	pair := pathParam(r, "pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "missing pair")
		return
	}

	trades, err := h.trades.ListTrades(r.Context(), pair, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
