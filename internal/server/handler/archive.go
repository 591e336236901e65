package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradeforge/indexcore/internal/domain"
)

// ArchiveService defines the cold-storage reads the archive handler requires.
type ArchiveService interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// ArchiveHandler serves read access to archived records. It is only
// registered when the archiver is enabled.
type ArchiveHandler struct {
	blobs  ArchiveService
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given blob reader and
// logger.
func NewArchiveHandler(blobs ArchiveService, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archives"),
	}
}

// listArchivesResponse wraps the list archives response.
type listArchivesResponse struct {
	Keys []string `json:"keys"`
}

// ListKeys returns archive object keys under an optional prefix.
// GET /api/archives?prefix=archive/trades/
func (h *ArchiveHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	keys, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	if keys == nil {
		keys = []string{}
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{Keys: keys})
}

// GetObject streams one archived object back to the caller.
// GET /api/archives/{key...}
func (h *ArchiveHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing archive key")
		return
	}

	data, err := h.blobs.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: read archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
