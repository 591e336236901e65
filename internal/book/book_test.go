package book

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

const pair = "IDX-USDC"

func limit(id, user string, side domain.OrderSide, price float64, amount float64) domain.Order {
	return domain.Order{
		ID:          id,
		UserID:      user,
		Pair:        pair,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		PriceTicks:  int64(price * 1e6),
		AmountUnits: int64(amount * 1e6),
	}
}

func market(id, user string, side domain.OrderSide, amount float64) domain.Order {
	return domain.Order{
		ID:          id,
		UserID:      user,
		Pair:        pair,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		AmountUnits: int64(amount * 1e6),
	}
}

func TestAddOrderValidation(t *testing.T) {
	b := NewBook(pair)

	cases := []struct {
		name  string
		order domain.Order
	}{
		{"missing id", limit("", "u1", domain.OrderSideBuy, 1.0, 1)},
		{"missing user", limit("o1", "", domain.OrderSideBuy, 1.0, 1)},
		{"bad side", domain.Order{ID: "o1", UserID: "u1", Pair: pair, Side: "short", Type: domain.OrderTypeLimit, PriceTicks: 1e6, AmountUnits: 1e6}},
		{"zero amount", limit("o1", "u1", domain.OrderSideBuy, 1.0, 0)},
		{"negative amount", limit("o1", "u1", domain.OrderSideBuy, 1.0, -5)},
		{"limit without price", limit("o1", "u1", domain.OrderSideBuy, 0, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.AddOrder(tc.order)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
}

func TestAddOrderDuplicateID(t *testing.T) {
	b := NewBook(pair)

	_, err := b.AddOrder(limit("o1", "u1", domain.OrderSideBuy, 1.0, 1))
	require.NoError(t, err)

	_, err = b.AddOrder(limit("o1", "u2", domain.OrderSideSell, 2.0, 1))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestFullCrossSingleTrade(t *testing.T) {
	b := NewBook(pair)

	_, err := b.AddOrder(limit("ask1", "maker", domain.OrderSideSell, 1.00, 10))
	require.NoError(t, err)

	res, err := b.AddOrder(limit("bid1", "taker", domain.OrderSideBuy, 1.00, 10))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(1_000_000), tr.PriceTicks)
	assert.Equal(t, int64(10_000_000), tr.AmountUnits)
	assert.Equal(t, "bid1", tr.BuyOrderID)
	assert.Equal(t, "ask1", tr.SellOrderID)
	assert.Equal(t, int64(0), res.RemainingUnits)

	// Both orders are gone from the book.
	snap := b.Snapshot(10)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
	_, err = b.GetOrder("ask1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	b := NewBook(pair)

	// Best resting ask 0.99 x 5.
	_, err := b.AddOrder(limit("ask1", "maker", domain.OrderSideSell, 0.99, 5))
	require.NoError(t, err)

	// Limit buy 10 @ 0.98... cannot cross 0.99, rests fully.
	res, err := b.AddOrder(limit("bid1", "taker", domain.OrderSideBuy, 0.98, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, int64(10_000_000), res.RemainingUnits)

	// Limit buy 10 @ 0.99 crosses: one trade 5 @ 0.99, remaining 5 rests.
	res, err = b.AddOrder(limit("bid2", "taker", domain.OrderSideBuy, 0.99, 10))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(990_000), res.Trades[0].PriceTicks)
	assert.Equal(t, int64(5_000_000), res.Trades[0].AmountUnits)
	assert.Equal(t, int64(5_000_000), res.RemainingUnits)

	rested, err := b.GetOrder("bid2")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), rested.RemainingUnits)
	assert.Equal(t, domain.OrderStatusPartial, rested.Status)
}

func TestTradeAtMakerPrice(t *testing.T) {
	b := NewBook(pair)

	_, err := b.AddOrder(limit("ask1", "maker", domain.OrderSideSell, 0.95, 3))
	require.NoError(t, err)

	// Aggressive buy at 1.10 still executes at the maker's 0.95.
	res, err := b.AddOrder(limit("bid1", "taker", domain.OrderSideBuy, 1.10, 3))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(950_000), res.Trades[0].PriceTicks)
}

func TestMarketOrderNeverRests(t *testing.T) {
	b := NewBook(pair)

	// No liquidity: market order fills nothing and rests nothing.
	res, err := b.AddOrder(market("m1", "taker", domain.OrderSideBuy, 5))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, int64(5_000_000), res.RemainingUnits)

	snap := b.Snapshot(10)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	// Partial liquidity: remainder is discarded.
	_, err = b.AddOrder(limit("ask1", "maker", domain.OrderSideSell, 1.00, 2))
	require.NoError(t, err)

	res, err = b.AddOrder(market("m2", "taker", domain.OrderSideBuy, 5))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(2_000_000), res.FilledUnits)
	assert.Equal(t, int64(3_000_000), res.RemainingUnits)

	snap = b.Snapshot(10)
	assert.Empty(t, snap.Bids, "market remainder must not rest")
}

func TestPriceTimePriority(t *testing.T) {
	b := NewBook(pair)

	now := time.Now().UTC()
	first := limit("ask_first", "m1", domain.OrderSideSell, 1.00, 1)
	first.CreatedAt = now.Add(-time.Second)
	second := limit("ask_second", "m2", domain.OrderSideSell, 1.00, 1)
	second.CreatedAt = now
	better := limit("ask_better", "m3", domain.OrderSideSell, 0.99, 1)
	better.CreatedAt = now.Add(time.Second)

	for _, o := range []domain.Order{second, better, first} {
		_, err := b.AddOrder(o)
		require.NoError(t, err)
	}

	res, err := b.AddOrder(limit("bid1", "taker", domain.OrderSideBuy, 1.00, 3))
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)

	// Best price first, then earliest timestamp.
	assert.Equal(t, "ask_better", res.Trades[0].SellOrderID)
	assert.Equal(t, "ask_first", res.Trades[1].SellOrderID)
	assert.Equal(t, "ask_second", res.Trades[2].SellOrderID)
}

func TestCancelOrder(t *testing.T) {
	b := NewBook(pair)

	_, err := b.AddOrder(limit("o1", "u1", domain.OrderSideBuy, 1.00, 5))
	require.NoError(t, err)

	cancelled, err := b.CancelOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	_, err = b.CancelOrder("o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A fully filled order cannot be cancelled.
	_, err = b.AddOrder(limit("ask1", "u2", domain.OrderSideSell, 1.00, 1))
	require.NoError(t, err)
	_, err = b.AddOrder(limit("bid1", "u3", domain.OrderSideBuy, 1.00, 1))
	require.NoError(t, err)
	_, err = b.CancelOrder("ask1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotAggregation(t *testing.T) {
	b := NewBook(pair)

	orders := []domain.Order{
		limit("b1", "u1", domain.OrderSideBuy, 0.98, 2),
		limit("b2", "u2", domain.OrderSideBuy, 0.98, 3),
		limit("b3", "u3", domain.OrderSideBuy, 0.97, 1),
		limit("a1", "u4", domain.OrderSideSell, 1.01, 4),
		limit("a2", "u5", domain.OrderSideSell, 1.02, 2),
	}
	for _, o := range orders {
		_, err := b.AddOrder(o)
		require.NoError(t, err)
	}

	snap := b.Snapshot(10)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)

	assert.Equal(t, int64(980_000), snap.Bids[0].PriceTicks)
	assert.Equal(t, int64(5_000_000), snap.Bids[0].AmountUnits)
	assert.Equal(t, 2, snap.Bids[0].OrderCount)
	assert.Equal(t, int64(1_010_000), snap.Asks[0].PriceTicks)

	// Snapshot must never be crossed.
	assert.Less(t, snap.BestBidTicks(), snap.BestAskTicks())

	// Depth cap.
	shallow := b.Snapshot(1)
	assert.Len(t, shallow.Bids, 1)
	assert.Len(t, shallow.Asks, 1)
}

func TestSidesStaySortedAndAmountsConserved(t *testing.T) {
	b := NewBook(pair)

	prices := []float64{1.00, 0.97, 1.03, 0.99, 1.01, 0.98, 1.02, 1.00, 0.99, 1.01}
	var submitted, traded int64
	for i, p := range prices {
		side := domain.OrderSideBuy
		if i%2 == 0 {
			side = domain.OrderSideSell
		}
		o := limit(fmt.Sprintf("o%d", i), fmt.Sprintf("u%d", i), side, p, float64(1+i%3))
		submitted += o.AmountUnits
		res, err := b.AddOrder(o)
		require.NoError(t, err)
		for _, tr := range res.Trades {
			traded += tr.AmountUnits
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 1; i < len(b.bids); i++ {
		prev, cur := b.bids[i-1], b.bids[i]
		assert.True(t, prev.PriceTicks > cur.PriceTicks ||
			(prev.PriceTicks == cur.PriceTicks && !prev.CreatedAt.After(cur.CreatedAt)),
			"bids must be sorted descending, ties by time")
	}
	for i := 1; i < len(b.asks); i++ {
		prev, cur := b.asks[i-1], b.asks[i]
		assert.True(t, prev.PriceTicks < cur.PriceTicks ||
			(prev.PriceTicks == cur.PriceTicks && !prev.CreatedAt.After(cur.CreatedAt)),
			"asks must be sorted ascending, ties by time")
	}

	var remaining int64
	for _, o := range append(append([]*domain.Order{}, b.bids...), b.asks...) {
		assert.GreaterOrEqual(t, o.RemainingUnits, int64(0))
		remaining += o.RemainingUnits
	}

	// Conservation: each traded unit fills one buy and one sell, so resting
	// units plus twice the traded volume account for everything submitted.
	assert.Equal(t, submitted, remaining+2*traded)
}
