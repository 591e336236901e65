// Package book implements the in-memory limit-order book and matching
// engine. One Book owns all resting orders for a single pair; every mutation
// of that pair goes through the Book's lock, so concurrent submissions never
// observe a half-updated maker.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/indexcore/internal/domain"
)

// snapshotTTL bounds how stale a cached depth snapshot may be served.
const snapshotTTL = time.Second

// Book is the bid/ask queues for one pair plus a short-TTL snapshot cache.
type Book struct {
	pair string

	mu   sync.Mutex
	bids []*domain.Order // price descending, then time ascending
	asks []*domain.Order // price ascending, then time ascending
	byID map[string]*domain.Order

	snap      *domain.BookSnapshot
	snapDepth int
	snapAt    time.Time
}

// NewBook creates an empty book for the given pair.
func NewBook(pair string) *Book {
	return &Book{
		pair: pair,
		byID: make(map[string]*domain.Order),
	}
}

// Pair returns the pair this book trades.
func (b *Book) Pair() string {
	return b.pair
}

// validate rejects malformed orders before they can touch the book.
func validate(o domain.Order) error {
	if o.ID == "" || o.UserID == "" || o.Pair == "" {
		return domain.ErrInvalidOrder
	}
	if o.Side != domain.OrderSideBuy && o.Side != domain.OrderSideSell {
		return domain.ErrInvalidOrder
	}
	if o.Type != domain.OrderTypeLimit && o.Type != domain.OrderTypeMarket {
		return domain.ErrInvalidOrder
	}
	if o.AmountUnits <= 0 {
		return domain.ErrInvalidOrder
	}
	if o.Type == domain.OrderTypeLimit && o.PriceTicks <= 0 {
		return domain.ErrInvalidOrder
	}
	return nil
}

// AddOrder validates the order, matches it against the opposite side with
// price-time priority, and rests any limit remainder. Market remainders are
// discarded, never rested. Each fill executes at the maker's resting price.
func (b *Book) AddOrder(o domain.Order) (domain.MatchResult, error) {
	if err := validate(o); err != nil {
		return domain.MatchResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[o.ID]; ok {
		return domain.MatchResult{}, domain.ErrDuplicateOrder
	}

	taker := o
	taker.RemainingUnits = taker.AmountUnits
	taker.Status = domain.OrderStatusOpen
	if taker.CreatedAt.IsZero() {
		taker.CreatedAt = time.Now().UTC()
	}

	trades := b.match(&taker)

	res := domain.MatchResult{
		Trades:         trades,
		FilledUnits:    taker.AmountUnits - taker.RemainingUnits,
		RemainingUnits: taker.RemainingUnits,
	}

	if taker.RemainingUnits > 0 && taker.Type == domain.OrderTypeLimit {
		if res.FilledUnits > 0 {
			taker.Status = domain.OrderStatusPartial
		}
		rest := taker
		b.insert(&rest)
	}
	// Market remainder is dropped; the router decides whether it goes to the
	// AMM instead.

	if len(trades) > 0 || (taker.RemainingUnits > 0 && taker.Type == domain.OrderTypeLimit) {
		b.snap = nil // invalidate cached snapshot
	}

	return res, nil
}

// match consumes the opposite side while prices cross, mutating taker and
// the resting makers in place. Returns the trades emitted.
func (b *Book) match(taker *domain.Order) []domain.Trade {
	var trades []domain.Trade

	opposite := &b.asks
	if taker.Side == domain.OrderSideSell {
		opposite = &b.bids
	}

	for taker.RemainingUnits > 0 && len(*opposite) > 0 {
		maker := (*opposite)[0]
		if !crosses(taker, maker) {
			break
		}

		qty := taker.RemainingUnits
		if maker.RemainingUnits < qty {
			qty = maker.RemainingUnits
		}

		taker.RemainingUnits -= qty
		maker.RemainingUnits -= qty

		buyID, sellID := taker.ID, maker.ID
		if taker.Side == domain.OrderSideSell {
			buyID, sellID = maker.ID, taker.ID
		}
		trades = append(trades, domain.Trade{
			ID:          uuid.New().String(),
			Pair:        b.pair,
			BuyOrderID:  buyID,
			SellOrderID: sellID,
			PriceTicks:  maker.PriceTicks, // maker's resting price
			AmountUnits: qty,
			Timestamp:   time.Now().UTC(),
			Settlement:  domain.TradeSettlementNone,
		})

		if maker.RemainingUnits == 0 {
			maker.Status = domain.OrderStatusFilled
			*opposite = (*opposite)[1:]
			delete(b.byID, maker.ID)
		} else {
			maker.Status = domain.OrderStatusPartial
		}
	}

	return trades
}

// crosses reports whether the taker's price is compatible with the maker's.
// Market takers cross any price.
func crosses(taker, maker *domain.Order) bool {
	if taker.Type == domain.OrderTypeMarket {
		return true
	}
	if taker.Side == domain.OrderSideBuy {
		return maker.PriceTicks <= taker.PriceTicks
	}
	return maker.PriceTicks >= taker.PriceTicks
}

// insert places a resting order at its price-time position.
func (b *Book) insert(o *domain.Order) {
	side := &b.asks
	if o.Side == domain.OrderSideBuy {
		side = &b.bids
	}

	idx := sort.Search(len(*side), func(i int) bool {
		other := (*side)[i]
		if other.PriceTicks != o.PriceTicks {
			if o.Side == domain.OrderSideBuy {
				return other.PriceTicks < o.PriceTicks
			}
			return other.PriceTicks > o.PriceTicks
		}
		return other.CreatedAt.After(o.CreatedAt)
	})

	*side = append(*side, nil)
	copy((*side)[idx+1:], (*side)[idx:])
	(*side)[idx] = o
	b.byID[o.ID] = o
}

// CancelOrder removes a resting order. Returns ErrNotFound if the order is
// absent or already fully filled.
func (b *Book) CancelOrder(id string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	delete(b.byID, id)

	side := &b.asks
	if o.Side == domain.OrderSideBuy {
		side = &b.bids
	}
	for i, r := range *side {
		if r.ID == id {
			*side = append((*side)[:i], (*side)[i+1:]...)
			break
		}
	}

	o.Status = domain.OrderStatusCancelled
	b.snap = nil
	return *o, nil
}

// GetOrder returns a copy of a resting order.
func (b *Book) GetOrder(id string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return *o, nil
}

// Snapshot returns the top-depth aggregated levels per side. Results may be
// served from a sub-second cache; a cached snapshot is invalidated on every
// book mutation, so crossed levels can never be observed.
func (b *Book) Snapshot(depth int) domain.BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snap != nil && b.snapDepth == depth && time.Since(b.snapAt) < snapshotTTL {
		return *b.snap
	}

	snap := domain.BookSnapshot{
		Pair:      b.pair,
		Bids:      aggregate(b.bids, depth),
		Asks:      aggregate(b.asks, depth),
		Timestamp: time.Now().UTC(),
	}
	b.snap = &snap
	b.snapDepth = depth
	b.snapAt = snap.Timestamp
	return snap
}

// aggregate collapses resting orders into per-price levels, capped at depth.
func aggregate(side []*domain.Order, depth int) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, depth)
	for _, o := range side {
		if n := len(levels); n > 0 && levels[n-1].PriceTicks == o.PriceTicks {
			levels[n-1].AmountUnits += o.RemainingUnits
			levels[n-1].OrderCount++
			continue
		}
		if len(levels) == depth {
			break
		}
		levels = append(levels, domain.PriceLevel{
			PriceTicks:  o.PriceTicks,
			AmountUnits: o.RemainingUnits,
			OrderCount:  1,
		})
	}
	return levels
}

// TouchedLevels returns the current aggregated levels at the given prices,
// including empty levels (AmountUnits == 0) for prices with no resting
// orders. The book mirror uses this to sync only what a match changed.
func (b *Book) TouchedLevels(bidTicks, askTicks []int64) (bids, asks []domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids = levelsAt(b.bids, bidTicks)
	asks = levelsAt(b.asks, askTicks)
	return bids, asks
}

func levelsAt(side []*domain.Order, ticks []int64) []domain.PriceLevel {
	byPrice := make(map[int64]*domain.PriceLevel, len(ticks))
	out := make([]domain.PriceLevel, 0, len(ticks))
	for _, t := range ticks {
		if _, ok := byPrice[t]; ok {
			continue
		}
		out = append(out, domain.PriceLevel{PriceTicks: t})
		byPrice[t] = &out[len(out)-1]
	}
	for _, o := range side {
		if lvl, ok := byPrice[o.PriceTicks]; ok {
			lvl.AmountUnits += o.RemainingUnits
			lvl.OrderCount++
		}
	}
	return out
}

// Best returns the best bid and ask ticks (0 for an empty side).
func (b *Book) Best() (bidTicks, askTicks int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bids) > 0 {
		bidTicks = b.bids[0].PriceTicks
	}
	if len(b.asks) > 0 {
		askTicks = b.asks[0].PriceTicks
	}
	return bidTicks, askTicks
}
