package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradeforge/indexcore/internal/domain"
)

// CommitmentService defines the commit-reveal methods the handler requires
// from the service layer.
type CommitmentService interface {
	Commit(ctx context.Context, userID, payloadHash, signature string) (domain.CommitReceipt, error)
	Reveal(ctx context.Context, commitmentID string, payload []byte, signature string) (domain.RevealReceipt, error)
}

// CommitmentHandler serves the commit-reveal HTTP endpoints.
type CommitmentHandler struct {
	commitments CommitmentService
	logger      *slog.Logger
}

// NewCommitmentHandler creates a CommitmentHandler with the given service
// and logger.
func NewCommitmentHandler(commitments CommitmentService, logger *slog.Logger) *CommitmentHandler {
	return &CommitmentHandler{
		commitments: commitments,
		logger:      logHandler(logger, "commitments"),
	}
}

// commitRequest is the JSON body for registering a commitment.
type commitRequest struct {
	UserID      string `json:"user_id"`
	PayloadHash string `json:"payload_hash"`
	Signature   string `json:"signature"`
}

// revealRequest is the JSON body for revealing a committed order. Payload is
// the base64-encoded order JSON that was hashed at commit time.
type revealRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Commit registers an order commitment ahead of its reveal.
// POST /api/commitments
func (h *CommitmentHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.UserID == "" || req.PayloadHash == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "user_id, payload_hash and signature are required")
		return
	}

	receipt, err := h.commitments.Commit(r.Context(), req.UserID, req.PayloadHash, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateCommitment):
			writeError(w, http.StatusConflict, "commitment already exists")
		case errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: commit failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to register commitment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// Reveal discloses a committed order so it can enter its batch auction.
// POST /api/commitments/{id}/reveal
func (h *CommitmentHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing commitment id")
		return
	}

	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload must be base64 encoded")
		return
	}

	receipt, err := h.commitments.Reveal(r.Context(), id, payload, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRevealExpired):
			writeError(w, http.StatusNotFound, "commitment not found or expired")
		case errors.Is(err, domain.ErrRevealTooEarly):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrCommitmentMismatch), errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrMEVDetected):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: reveal failed",
				slog.String("commitment_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to reveal commitment")
		}
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}
