package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tradeforge/indexcore/internal/domain"
)

// BookService defines the methods the book handler requires from the service
// layer.
type BookService interface {
	GetBookSnapshot(ctx context.Context, pair string, depth int) domain.BookSnapshot
}

// BookHandler serves order-book read endpoints.
type BookHandler struct {
	books  BookService
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler with the given service and logger.
func NewBookHandler(books BookService, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:  books,
		logger: logHandler(logger, "book"),
	}
}

// GetSnapshot returns an aggregated depth view of one pair's book.
// GET /api/book/{pair}?depth=20
func (h *BookHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	pair := pathParam(r, "pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "missing pair")
		return
	}

	depth := 20
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		depth = n
	}

	writeJSON(w, http.StatusOK, h.books.GetBookSnapshot(r.Context(), pair, depth))
}
