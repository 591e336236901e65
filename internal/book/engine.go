package book

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeforge/indexcore/internal/domain"
)

// EngineConfig tunes the matching engine's mirror circuit breaker.
type EngineConfig struct {
	// MirrorFailureThreshold is how many consecutive mirror errors trip the
	// per-pair circuit breaker.
	MirrorFailureThreshold int
	// MirrorGracePeriod is how long a tripped pair stays halted before the
	// engine probes the mirror again.
	MirrorGracePeriod time.Duration
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MirrorFailureThreshold: 5,
		MirrorGracePeriod:      10 * time.Second,
	}
}

// pairState tracks per-pair mirror health. When the shared store is
// unreachable past the grace period the pair halts new matching: consistency
// is prioritized over availability at that boundary.
type pairState struct {
	book          *Book
	mirrorErrs    int
	degradedUntil time.Time
}

// Engine owns one Book per pair and wires match results into the shared
// store mirror, the write-behind persister, and the signal bus.
type Engine struct {
	cfg    EngineConfig
	mirror domain.BookMirror // nil disables mirroring
	flush  *Persister        // nil disables persistence
	bus    domain.SignalBus  // nil disables publishing
	logger *slog.Logger

	mu    sync.RWMutex
	pairs map[string]*pairState
}

// NewEngine creates a matching engine. mirror, flush, and bus may each be
// nil, which disables the corresponding side effect (used in tests and
// in-memory mode).
func NewEngine(cfg EngineConfig, mirror domain.BookMirror, flush *Persister, bus domain.SignalBus, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		mirror: mirror,
		flush:  flush,
		bus:    bus,
		logger: logger.With(slog.String("component", "book_engine")),
		pairs:  make(map[string]*pairState),
	}
}

// state returns the pair's state, creating the book lazily.
func (e *Engine) state(pair string) *pairState {
	e.mu.RLock()
	ps, ok := e.pairs[pair]
	e.mu.RUnlock()
	if ok {
		return ps
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ps, ok = e.pairs[pair]; ok {
		return ps
	}
	ps = &pairState{book: NewBook(pair)}
	e.pairs[pair] = ps
	return ps
}

// Submit adds an order to its pair's book and distributes the side effects.
// Returns ErrVenueUnavailable while the pair's mirror circuit breaker is
// open.
func (e *Engine) Submit(ctx context.Context, o domain.Order) (domain.MatchResult, error) {
	ps := e.state(o.Pair)

	if err := e.checkDegraded(ctx, ps, o.Pair); err != nil {
		return domain.MatchResult{}, err
	}

	res, err := ps.book.AddOrder(o)
	if err != nil {
		return domain.MatchResult{}, err
	}

	e.afterMutation(ctx, ps, o, res)
	return res, nil
}

// Cancel removes a resting order from its pair's book.
func (e *Engine) Cancel(ctx context.Context, pair, orderID string) error {
	ps := e.state(pair)

	cancelled, err := ps.book.CancelOrder(orderID)
	if err != nil {
		return err
	}

	if cancelled.Side == domain.OrderSideBuy {
		e.syncMirror(ctx, ps, []int64{cancelled.PriceTicks}, nil)
	} else {
		e.syncMirror(ctx, ps, nil, []int64{cancelled.PriceTicks})
	}
	if e.flush != nil {
		e.flush.Enqueue(domain.BookMutation{Cancels: []string{orderID}})
	}
	return nil
}

// Snapshot returns the pair's depth-limited book view.
func (e *Engine) Snapshot(pair string, depth int) domain.BookSnapshot {
	return e.state(pair).book.Snapshot(depth)
}

// GetOrder looks up a resting order on the pair's book.
func (e *Engine) GetOrder(pair, orderID string) (domain.Order, error) {
	return e.state(pair).book.GetOrder(orderID)
}

// checkDegraded enforces the circuit breaker and probes the mirror once the
// grace period has elapsed.
func (e *Engine) checkDegraded(ctx context.Context, ps *pairState, pair string) error {
	e.mu.RLock()
	until := ps.degradedUntil
	e.mu.RUnlock()

	if until.IsZero() {
		return nil
	}
	if time.Now().Before(until) {
		return domain.ErrVenueUnavailable
	}

	// Probe: republish best prices. Success closes the breaker.
	bid, ask := ps.book.Best()
	if err := e.mirror.SetBest(ctx, pair, bid, ask); err != nil {
		e.mu.Lock()
		ps.degradedUntil = time.Now().Add(e.cfg.MirrorGracePeriod)
		e.mu.Unlock()
		return domain.ErrVenueUnavailable
	}

	e.mu.Lock()
	ps.degradedUntil = time.Time{}
	ps.mirrorErrs = 0
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "pair mirror recovered, matching resumed",
		slog.String("pair", pair),
	)
	return nil
}

// afterMutation mirrors touched levels, queues persistence, and publishes
// trades. Mirror failures feed the circuit breaker; persistence and
// publishing are fire-and-forget.
func (e *Engine) afterMutation(ctx context.Context, ps *pairState, taker domain.Order, res domain.MatchResult) {
	touched := make([]int64, 0, len(res.Trades)+1)
	for _, t := range res.Trades {
		touched = append(touched, t.PriceTicks)
	}
	if taker.Type == domain.OrderTypeLimit {
		touched = append(touched, taker.PriceTicks)
	}
	e.syncMirror(ctx, ps, touched, touched)

	if e.flush != nil {
		rested := taker
		rested.RemainingUnits = res.RemainingUnits
		rested.Status = orderStatus(taker, res)
		e.flush.Enqueue(domain.BookMutation{
			NewOrders: []domain.Order{rested},
			Trades:    res.Trades,
		})
	}

	if e.bus != nil {
		for _, t := range res.Trades {
			if payload, err := json.Marshal(t); err == nil {
				_ = e.bus.Publish(ctx, "trades:"+t.Pair, payload)
			}
		}
	}
}

// orderStatus derives the taker's post-match status.
func orderStatus(taker domain.Order, res domain.MatchResult) domain.OrderStatus {
	switch {
	case res.RemainingUnits == 0:
		return domain.OrderStatusFilled
	case taker.Type == domain.OrderTypeMarket:
		// Unfilled market remainder is discarded, never rested.
		if res.FilledUnits > 0 {
			return domain.OrderStatusPartial
		}
		return domain.OrderStatusRejected
	case res.FilledUnits > 0:
		return domain.OrderStatusPartial
	default:
		return domain.OrderStatusOpen
	}
}

// syncMirror pushes the touched levels and fresh best prices to the shared
// store, tracking consecutive failures for the circuit breaker.
func (e *Engine) syncMirror(ctx context.Context, ps *pairState, bidTicks, askTicks []int64) {
	if e.mirror == nil {
		return
	}

	pair := ps.book.Pair()
	bids, asks := ps.book.TouchedLevels(bidTicks, askTicks)
	bid, ask := ps.book.Best()

	err := e.mirror.ApplyLevels(ctx, pair, bids, asks)
	if err == nil {
		err = e.mirror.SetBest(ctx, pair, bid, ask)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		ps.mirrorErrs = 0
		return
	}

	ps.mirrorErrs++
	e.logger.WarnContext(ctx, "book mirror sync failed",
		slog.String("pair", pair),
		slog.Int("consecutive_errors", ps.mirrorErrs),
		slog.String("error", err.Error()),
	)
	if ps.mirrorErrs >= e.cfg.MirrorFailureThreshold && ps.degradedUntil.IsZero() {
		ps.degradedUntil = time.Now().Add(e.cfg.MirrorGracePeriod)
		e.logger.ErrorContext(ctx, "pair entering degraded mode, matching halted",
			slog.String("pair", pair),
			slog.Duration("grace_period", e.cfg.MirrorGracePeriod),
		)
	}
}
