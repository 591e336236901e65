package book

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

// recordingMirror captures every ApplyLevels call for assertions.
type recordingMirror struct {
	applies []mirrorApply
	fail    error
}

type mirrorApply struct {
	bids []domain.PriceLevel
	asks []domain.PriceLevel
}

func (m *recordingMirror) ApplyLevels(_ context.Context, _ string, bids, asks []domain.PriceLevel) error {
	if m.fail != nil {
		return m.fail
	}
	m.applies = append(m.applies, mirrorApply{bids: bids, asks: asks})
	return nil
}

func (m *recordingMirror) SetBest(context.Context, string, int64, int64) error {
	return m.fail
}

func (m *recordingMirror) ReadSnapshot(context.Context, string, int) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, domain.ErrNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCancelSyncsMirrorOnOrderSide(t *testing.T) {
	mirror := &recordingMirror{}
	e := NewEngine(DefaultEngineConfig(), mirror, nil, nil, testLogger())
	ctx := context.Background()

	_, err := e.Submit(ctx, limit("a1", "u1", domain.OrderSideSell, 1.00, 5))
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, pair, "a1"))

	require.Len(t, mirror.applies, 2)
	last := mirror.applies[1]

	// The cancelled ask level must be zeroed on the ask side, and the bid
	// side must stay untouched.
	assert.Empty(t, last.bids)
	require.Len(t, last.asks, 1)
	assert.Equal(t, int64(1_000_000), last.asks[0].PriceTicks)
	assert.Equal(t, int64(0), last.asks[0].AmountUnits)
}

func TestCancelSyncsBidSide(t *testing.T) {
	mirror := &recordingMirror{}
	e := NewEngine(DefaultEngineConfig(), mirror, nil, nil, testLogger())
	ctx := context.Background()

	_, err := e.Submit(ctx, limit("b1", "u1", domain.OrderSideBuy, 0.98, 3))
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, pair, "b1"))

	last := mirror.applies[len(mirror.applies)-1]
	assert.Empty(t, last.asks)
	require.Len(t, last.bids, 1)
	assert.Equal(t, int64(980_000), last.bids[0].PriceTicks)
	assert.Equal(t, int64(0), last.bids[0].AmountUnits)
}

func TestMirrorFailuresTripCircuitBreaker(t *testing.T) {
	mirror := &recordingMirror{fail: errors.New("mirror down")}
	cfg := EngineConfig{MirrorFailureThreshold: 2, MirrorGracePeriod: time.Hour}
	e := NewEngine(cfg, mirror, nil, nil, testLogger())
	ctx := context.Background()

	_, err := e.Submit(ctx, limit("o1", "u1", domain.OrderSideBuy, 1.00, 1))
	require.NoError(t, err)
	_, err = e.Submit(ctx, limit("o2", "u1", domain.OrderSideBuy, 1.01, 1))
	require.NoError(t, err)

	// Threshold reached: the pair is halted.
	_, err = e.Submit(ctx, limit("o3", "u1", domain.OrderSideBuy, 1.02, 1))
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}
