package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradeforge/indexcore/internal/domain"
)

type fakeMirror struct {
	snap domain.BookSnapshot
	err  error
}

func (m *fakeMirror) ApplyLevels(context.Context, string, []domain.PriceLevel, []domain.PriceLevel) error {
	return nil
}

func (m *fakeMirror) SetBest(context.Context, string, int64, int64) error { return nil }

func (m *fakeMirror) ReadSnapshot(context.Context, string, int) (domain.BookSnapshot, error) {
	return m.snap, m.err
}

func TestMirrorBookReaderServesMirroredLevels(t *testing.T) {
	mirror := &fakeMirror{snap: domain.BookSnapshot{
		Pair:      "IDX-USDC",
		Bids:      []domain.PriceLevel{{PriceTicks: 990_000, AmountUnits: 5_000_000}},
		Asks:      []domain.PriceLevel{{PriceTicks: 1_010_000, AmountUnits: 3_000_000}},
		Timestamp: time.Now().UTC(),
	}}
	r := NewMirrorBookReader(mirror, slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap := r.GetBookSnapshot(context.Background(), "IDX-USDC", 20)
	assert.Equal(t, int64(990_000), snap.BestBidTicks())
	assert.Equal(t, int64(1_010_000), snap.BestAskTicks())
}

func TestMirrorBookReaderDegradesToEmptySnapshot(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("mirror down")}
	r := NewMirrorBookReader(mirror, slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap := r.GetBookSnapshot(context.Background(), "IDX-USDC", 20)
	assert.Equal(t, "IDX-USDC", snap.Pair)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}
