package mev

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

func newBatchFixture(t *testing.T, cfg BatchConfig, spot int64) (*BatchEngine, *captureRouter, *captureSink) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	router := &captureRouter{}
	sink := &captureSink{}
	return NewBatchEngine(cfg, router, fixedQuoter{spot: spot}, sink, logger), router, sink
}

func limitOrder(id, user, pair string, side domain.OrderSide, ticks, units int64, at time.Time) domain.Order {
	return domain.Order{
		ID: id, UserID: user, Pair: pair, Side: side,
		Type: domain.OrderTypeLimit, PriceTicks: ticks,
		AmountUnits: units, RemainingUnits: units,
		Status: domain.OrderStatusOpen, CreatedAt: at,
	}
}

// seedBatch assigns orders and returns the shared batch state. Seeding
// starts at a window boundary so all orders land in one batch.
func seedBatch(t *testing.T, e *BatchEngine, orders ...domain.Order) *batchState {
	t.Helper()
	ctx := context.Background()

	if e.cfg.Window < time.Second {
		next := time.Now().Truncate(e.cfg.Window).Add(e.cfg.Window)
		time.Sleep(time.Until(next))
	}
	var batchID string
	for _, o := range orders {
		receipt, err := e.Assign(ctx, o)
		require.NoError(t, err)
		if batchID == "" {
			batchID = receipt.BatchID
		} else {
			require.Equal(t, batchID, receipt.BatchID, "same window must share a batch")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.pending {
		if st.batch.ID == batchID {
			return st
		}
	}
	t.Fatalf("batch %s not found", batchID)
	return nil
}

func TestUniformPriceMaximizesVolume(t *testing.T) {
	now := time.Now().UTC()
	buys := []domain.Order{
		limitOrder("b1", "u1", "IDX-USDC", domain.OrderSideBuy, 1_000_000, 10_000_000, now),
		limitOrder("b2", "u2", "IDX-USDC", domain.OrderSideBuy, 990_000, 5_000_000, now),
	}
	sells := []domain.Order{
		limitOrder("s1", "u3", "IDX-USDC", domain.OrderSideSell, 980_000, 8_000_000, now),
		limitOrder("s2", "u4", "IDX-USDC", domain.OrderSideSell, 990_000, 8_000_000, now),
	}
	sb, ss := splitSides(append(buys, sells...))

	// At 0.99 both sells and both buys cross: min(15, 16) = 15. At 1.00
	// only b1 crosses: min(10, 16) = 10. At 0.98: min(15, 8) = 8.
	p := uniformPrice(sb, ss, 985_000)
	assert.Equal(t, int64(990_000), p)

	// The clearing price sits inside the crossing band.
	assert.GreaterOrEqual(t, p, int64(980_000))
	assert.LessOrEqual(t, p, int64(1_000_000))
}

func TestUniformPriceNoCross(t *testing.T) {
	now := time.Now().UTC()
	b, s := splitSides([]domain.Order{
		limitOrder("b1", "u1", "IDX-USDC", domain.OrderSideBuy, 950_000, 10_000_000, now),
		limitOrder("s1", "u2", "IDX-USDC", domain.OrderSideSell, 990_000, 10_000_000, now),
	})
	assert.Equal(t, int64(0), uniformPrice(b, s, 970_000))
}

func TestUniformPriceAllMarketUsesReference(t *testing.T) {
	now := time.Now().UTC()
	mb := domain.Order{ID: "mb", UserID: "u1", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, AmountUnits: 5_000_000, RemainingUnits: 5_000_000, CreatedAt: now}
	ms := domain.Order{ID: "ms", UserID: "u2", Pair: "IDX-USDC", Side: domain.OrderSideSell,
		Type: domain.OrderTypeMarket, AmountUnits: 5_000_000, RemainingUnits: 5_000_000, CreatedAt: now}
	b, s := splitSides([]domain.Order{mb, ms})
	assert.Equal(t, int64(985_000), uniformPrice(b, s, 985_000))
}

func TestBatchExecuteCrossesAtUniformPrice(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = 50 * time.Millisecond
	e, router, sink := newBatchFixture(t, cfg, 990_000)
	now := time.Now().UTC()

	st := seedBatch(t, e,
		limitOrder("b1", "alice", "IDX-USDC", domain.OrderSideBuy, 1_000_000, 10_000_000, now),
		limitOrder("s1", "bob", "IDX-USDC", domain.OrderSideSell, 980_000, 6_000_000, now),
		limitOrder("s2", "carol", "IDX-USDC", domain.OrderSideSell, 990_000, 4_000_000, now),
	)

	time.Sleep(2 * cfg.Window)
	e.ExecuteElapsed(context.Background())

	require.NotNil(t, st.outcome)
	uniform := st.outcome.UniformPriceTicks
	require.NotZero(t, uniform)

	var filled int64
	for _, tr := range sink.trades {
		assert.Equal(t, uniform, tr.PriceTicks, "every fill shares the clearing price")
		assert.Equal(t, st.batch.ID, tr.BatchID)
		filled += tr.AmountUnits
	}
	assert.Equal(t, int64(10_000_000), filled)
	assert.Empty(t, router.routed, "fully crossed batch leaves no residual")
}

func TestBatchResidualForwardedToRouter(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = 50 * time.Millisecond
	e, router, sink := newBatchFixture(t, cfg, 990_000)
	now := time.Now().UTC()

	seedBatch(t, e,
		limitOrder("b1", "alice", "IDX-USDC", domain.OrderSideBuy, 990_000, 10_000_000, now),
		limitOrder("s1", "bob", "IDX-USDC", domain.OrderSideSell, 990_000, 4_000_000, now),
	)

	time.Sleep(2 * cfg.Window)
	e.ExecuteElapsed(context.Background())

	var filled int64
	for _, tr := range sink.trades {
		filled += tr.AmountUnits
	}
	assert.Equal(t, int64(4_000_000), filled)

	require.Len(t, router.routed, 1)
	assert.Equal(t, "b1", router.routed[0].ID)
	assert.Equal(t, int64(6_000_000), router.routed[0].AmountUnits, "residual routes the unfilled remainder")
}

func TestBatchImpactCapSkipsOrders(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = 50 * time.Millisecond
	cfg.MaxImpactBps = 100 // 1%
	e, _, _ := newBatchFixture(t, cfg, 1_000_000)
	now := time.Now().UTC()

	// The market sell would clear 5% below spot; the cap skips it.
	marketSell := domain.Order{ID: "ms", UserID: "bob", Pair: "IDX-USDC", Side: domain.OrderSideSell,
		Type: domain.OrderTypeMarket, AmountUnits: 5_000_000, RemainingUnits: 5_000_000, CreatedAt: now}

	st := seedBatch(t, e,
		limitOrder("b1", "alice", "IDX-USDC", domain.OrderSideBuy, 950_000, 5_000_000, now),
		limitOrder("b2", "carol", "IDX-USDC", domain.OrderSideBuy, 950_000, 5_000_000, now),
		limitOrder("s1", "dave", "IDX-USDC", domain.OrderSideSell, 950_000, 5_000_000, now),
		marketSell,
	)

	time.Sleep(2 * cfg.Window)
	e.ExecuteElapsed(context.Background())

	require.NotNil(t, st.outcome)
	assert.Contains(t, st.outcome.Skipped, "ms")
	for _, tr := range st.outcome.Trades {
		assert.NotEqual(t, "ms", tr.SellOrderID)
	}
}

func TestBatchWindowsArePerPair(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = time.Hour
	e, _, _ := newBatchFixture(t, cfg, 990_000)
	ctx := context.Background()
	now := time.Now().UTC()

	r1, err := e.Assign(ctx, limitOrder("a", "u1", "IDX-USDC", domain.OrderSideBuy, 990_000, 1_000_000, now))
	require.NoError(t, err)
	r2, err := e.Assign(ctx, limitOrder("b", "u2", "ETH-USDC", domain.OrderSideBuy, 990_000, 1_000_000, now))
	require.NoError(t, err)
	assert.NotEqual(t, r1.BatchID, r2.BatchID)
}

func TestRevealAfterWindowClaimRollsForward(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = time.Hour
	e, _, _ := newBatchFixture(t, cfg, 990_000)
	ctx := context.Background()
	now := time.Now().UTC()

	r1, err := e.Assign(ctx, limitOrder("o1", "alice", "IDX-USDC", domain.OrderSideBuy, 990_000, 1_000_000, now))
	require.NoError(t, err)

	// Claim the window the way ExecuteElapsed does when it closes.
	e.mu.Lock()
	for _, st := range e.pending {
		st.batch.Executed = true
	}
	e.mu.Unlock()

	r2, err := e.Assign(ctx, limitOrder("o2", "bob", "IDX-USDC", domain.OrderSideBuy, 990_000, 1_000_000, now))
	require.NoError(t, err)
	assert.NotEqual(t, r1.BatchID, r2.BatchID, "claimed window takes no more orders")
	assert.True(t, r2.EstimatedExecutionTime.After(r1.EstimatedExecutionTime))

	e.mu.Lock()
	defer e.mu.Unlock()
	var found bool
	for _, st := range e.pending {
		switch st.batch.ID {
		case r1.BatchID:
			require.Len(t, st.batch.Orders, 1, "claimed batch keeps its final contents")
		case r2.BatchID:
			found = true
			assert.False(t, st.batch.Executed)
			require.Len(t, st.batch.Orders, 1)
			assert.Equal(t, "o2", st.batch.Orders[0].ID)
		}
	}
	assert.True(t, found, "late reveal lands in a live batch")
}

func TestDrainExecuted(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.Window = 50 * time.Millisecond
	e, _, _ := newBatchFixture(t, cfg, 990_000)
	now := time.Now().UTC()

	seedBatch(t, e,
		limitOrder("b1", "alice", "IDX-USDC", domain.OrderSideBuy, 990_000, 1_000_000, now),
		limitOrder("s1", "bob", "IDX-USDC", domain.OrderSideSell, 990_000, 1_000_000, now),
	)

	time.Sleep(2 * cfg.Window)
	e.ExecuteElapsed(context.Background())

	outcomes := e.DrainExecuted(time.Now().Add(time.Second))
	require.Len(t, outcomes, 1)
	assert.Len(t, outcomes[0].Trades, 1)

	// Drained batches are gone.
	assert.Empty(t, e.DrainExecuted(time.Now().Add(time.Second)))
}
