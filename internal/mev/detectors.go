package mev

import (
	"context"
	"sync"
	"time"

	"github.com/tradeforge/indexcore/internal/domain"
)

// historyRetention is how long reveal records are kept for the detectors.
const historyRetention = 2 * time.Minute

// record is one revealed order, as the detectors see it.
type record struct {
	userID      string
	pair        string
	side        domain.OrderSide
	priceTicks  int64
	amountUnits int64
	at          time.Time
}

// history is the in-memory recent-order log the pattern detectors query.
// It is process-local: detection operates on the reveal stream this
// instance admitted.
type history struct {
	mu      sync.Mutex
	records []record // ordered by time
}

func newHistory() *history {
	return &history{}
}

// record appends an admitted order and prunes expired entries.
func (h *history) record(o domain.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prune(time.Now())
	h.records = append(h.records, record{
		userID:      o.UserID,
		pair:        o.Pair,
		side:        o.Side,
		priceTicks:  o.PriceTicks,
		amountUnits: o.AmountUnits,
		at:          o.CreatedAt,
	})
}

// recent returns records at or after cutoff, oldest first.
func (h *history) recent(cutoff time.Time) []record {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prune(time.Now())
	out := make([]record, 0, len(h.records))
	for _, r := range h.records {
		if !r.at.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// prune drops records older than the retention horizon. Caller holds the
// lock.
func (h *history) prune(now time.Time) {
	horizon := now.Add(-historyRetention)
	i := 0
	for i < len(h.records) && h.records[i].at.Before(horizon) {
		i++
	}
	if i > 0 {
		h.records = append(h.records[:0], h.records[i:]...)
	}
}

// detectSandwich flags the closing leg of a sandwich: the same user placed
// an opposite-side, near-equal-size order on the same pair within the
// window, with at least one other user's order in between (the victim).
func (g *Guard) detectSandwich(o domain.Order) bool {
	cutoff := time.Now().Add(-g.cfg.SandwichWindow)
	recent := g.history.recent(cutoff)

	for i, open := range recent {
		if open.userID != o.UserID || open.pair != o.Pair || open.side == o.Side {
			continue
		}
		if !nearEqual(open.amountUnits, o.AmountUnits, g.cfg.SandwichSizeTolBps) {
			continue
		}
		// Look for a bracketed victim order from another user.
		for _, victim := range recent[i+1:] {
			if victim.userID != o.UserID && victim.pair == o.Pair {
				return true
			}
		}
	}
	return false
}

// detectFrontRun flags an order priced materially better than another
// user's same-side order on the same pair submitted just before it.
func (g *Guard) detectFrontRun(o domain.Order) bool {
	if o.Type == domain.OrderTypeMarket {
		return false
	}
	cutoff := time.Now().Add(-g.cfg.FrontRunWindow)
	for _, r := range g.history.recent(cutoff) {
		if r.userID == o.UserID || r.pair != o.Pair || r.side != o.Side {
			continue
		}
		if r.priceTicks == 0 {
			continue
		}
		edge := o.PriceTicks - r.priceTicks
		if o.Side == domain.OrderSideSell {
			edge = -edge
		}
		if edge*10_000 >= g.cfg.FrontRunEdgeBps*r.priceTicks {
			return true
		}
	}
	return false
}

// detectBackRunBurst flags an unusual burst of orders by one user inside
// the burst window.
func (g *Guard) detectBackRunBurst(o domain.Order) bool {
	cutoff := time.Now().Add(-g.cfg.BackRunWindow)
	count := 0
	for _, r := range g.history.recent(cutoff) {
		if r.userID == o.UserID {
			count++
		}
	}
	// The incoming order itself counts toward the burst.
	return count+1 >= g.cfg.BackRunBurst
}

// detectHighFrequency checks the user's reveal rate against the rolling
// one-minute window in the shared store.
func (g *Guard) detectHighFrequency(ctx context.Context, o domain.Order) (bool, error) {
	allowed, err := g.limiter.Allow(ctx, "reveals:"+o.UserID, g.cfg.HFLimit, time.Minute)
	if err != nil {
		return false, err
	}
	return !allowed, nil
}

// nearEqual reports whether a and b differ by at most tolBps basis points
// of the larger value.
func nearEqual(a, b, tolBps int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	max := a
	if b > max {
		max = b
	}
	return diff*10_000 <= tolBps*max
}
