package service

import (
	"context"
	"log/slog"

	"github.com/tradeforge/indexcore/internal/domain"
)

// MirrorBookReader serves book snapshots from the shared mirror instead of a
// live matching engine. Read-only processes use it so they report the books
// the serving replicas maintain rather than their own empty ones.
type MirrorBookReader struct {
	mirror domain.BookMirror
	logger *slog.Logger
}

// NewMirrorBookReader creates a MirrorBookReader over the given mirror.
func NewMirrorBookReader(mirror domain.BookMirror, logger *slog.Logger) *MirrorBookReader {
	return &MirrorBookReader{
		mirror: mirror,
		logger: logger.With(slog.String("component", "mirror_books")),
	}
}

// GetBookSnapshot reads the mirrored book for a pair. A mirror failure
// degrades to an empty snapshot; the endpoint stays up while the mirror
// recovers.
func (r *MirrorBookReader) GetBookSnapshot(ctx context.Context, pair string, depth int) domain.BookSnapshot {
	snap, err := r.mirror.ReadSnapshot(ctx, pair, depth)
	if err != nil {
		r.logger.WarnContext(ctx, "mirror snapshot read failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
		return domain.BookSnapshot{Pair: pair}
	}
	return snap
}
