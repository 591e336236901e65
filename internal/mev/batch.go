package mev

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/indexcore/internal/domain"
)

// Routing forwards residual batch volume to the two-venue router.
type Routing interface {
	Route(ctx context.Context, o domain.Order) (domain.ExecutionReport, error)
}

// BatchConfig tunes the call-auction windows.
type BatchConfig struct {
	// Window is the fixed auction bucket length.
	Window time.Duration
	// Grace is how long executed batches stay around for archival before
	// garbage collection.
	Grace time.Duration
	// MaxImpactBps skips orders whose execution at the uniform price moves
	// them more than this from their reference price.
	MaxImpactBps int64
}

// DefaultBatchConfig returns the auction defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Window:       5 * time.Second,
		Grace:        time.Minute,
		MaxImpactBps: 300,
	}
}

// batchState is one pending or executed window for a pair.
type batchState struct {
	batch   domain.Batch
	outcome *domain.BatchOutcome
}

// BatchEngine buckets revealed orders into per-pair time windows and clears
// each window in a single call auction at one uniform price. Distinct
// windows execute independently and in parallel; execution inside a window
// is sequential in price-time priority.
type BatchEngine struct {
	cfg    BatchConfig
	router Routing
	quoter domain.Quoter
	sink   TradeSink // receives uniform-price trades, may be nil
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*batchState // key: pair|windowStart
}

// TradeSink persists and publishes trades produced by batch crossing.
type TradeSink interface {
	RecordBatchTrades(ctx context.Context, trades []domain.Trade)
}

// NewBatchEngine creates a BatchEngine. quoter provides the reference price
// for market orders' impact checks; sink may be nil.
func NewBatchEngine(cfg BatchConfig, router Routing, quoter domain.Quoter, sink TradeSink, logger *slog.Logger) *BatchEngine {
	return &BatchEngine{
		cfg:     cfg,
		router:  router,
		quoter:  quoter,
		sink:    sink,
		logger:  logger.With(slog.String("component", "batch_engine")),
		pending: make(map[string]*batchState),
	}
}

// Assign appends the order to the current window's batch for its pair,
// creating the batch lazily on the first reveal into the window.
func (e *BatchEngine) Assign(_ context.Context, o domain.Order) (domain.RevealReceipt, error) {
	now := time.Now().UTC()
	start := now.Truncate(e.cfg.Window)
	end := start.Add(e.cfg.Window)

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		key := fmt.Sprintf("%s|%d", o.Pair, start.UnixNano())
		st, ok := e.pending[key]
		if !ok {
			st = &batchState{batch: domain.Batch{
				ID:          uuid.New().String(),
				Pair:        o.Pair,
				WindowStart: start,
				WindowEnd:   end,
			}}
			e.pending[key] = st
		}
		if st.batch.Executed {
			// The window was claimed for execution between the reveal and
			// this assignment; the order rolls into the next window.
			start = start.Add(e.cfg.Window)
			end = end.Add(e.cfg.Window)
			continue
		}
		st.batch.Orders = append(st.batch.Orders, o)

		return domain.RevealReceipt{
			BatchID:                st.batch.ID,
			EstimatedExecutionTime: end,
		}, nil
	}
}

// Run executes elapsed windows as they close and garbage-collects executed
// batches after the grace period.
func (e *BatchEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Window / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.ExecuteElapsed(ctx)
			e.gc()
		}
	}
}

// ExecuteElapsed runs every batch whose window has closed. Each elapsed
// batch executes on its own goroutine; a batch never waits for stragglers.
func (e *BatchEngine) ExecuteElapsed(ctx context.Context) {
	now := time.Now().UTC()

	e.mu.Lock()
	var due []*batchState
	for _, st := range e.pending {
		if !st.batch.Executed && !st.batch.WindowEnd.After(now) {
			st.batch.Executed = true // claimed; outcome set on completion
			due = append(due, st)
		}
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, st := range due {
		wg.Add(1)
		go func(st *batchState) {
			defer wg.Done()
			e.execute(ctx, st)
		}(st)
	}
	wg.Wait()
}

// execute clears one batch: uniform price from call-auction crossing,
// impact-cap filtering, sequential crossing in priority order, then
// residual forwarding to the router.
func (e *BatchEngine) execute(ctx context.Context, st *batchState) {
	now := time.Now().UTC()

	// Once a batch is claimed Assign rolls new reveals into the next
	// window, so the snapshot taken here is the batch's final contents.
	e.mu.Lock()
	b := st.batch
	e.mu.Unlock()

	refTicks, refErr := e.quoter.SpotPrice(ctx, b.Pair)
	if refErr != nil {
		// Market orders cannot be impact-checked without a reference;
		// limit orders fall back to their own price.
		refTicks = 0
	}

	buys, sells := splitSides(b.Orders)
	uniform := uniformPrice(buys, sells, refTicks)

	outcome := domain.BatchOutcome{
		BatchID:           b.ID,
		Pair:              b.Pair,
		UniformPriceTicks: uniform,
		ExecutedAt:        now,
	}

	if uniform == 0 {
		// No crossing volume: everything is residual.
		e.forwardResiduals(ctx, b.Orders)
		e.finish(st, uniform, now, &outcome)
		return
	}

	// Filter orders by limit compatibility and the price-impact cap.
	eligible := func(orders []domain.Order) []domain.Order {
		out := orders[:0:0]
		for _, o := range orders {
			if !compatible(o, uniform) {
				e.forwardResiduals(ctx, []domain.Order{o})
				continue
			}
			if e.exceedsImpactCap(o, uniform, refTicks) {
				outcome.Skipped = append(outcome.Skipped, o.ID)
				continue
			}
			out = append(out, o)
		}
		return out
	}
	buys, sells = eligible(buys), eligible(sells)

	// Cross sequentially in priority order; all fills at the uniform price.
	trades, residual := cross(b.Pair, b.ID, buys, sells, uniform)
	outcome.Trades = trades

	if e.sink != nil && len(trades) > 0 {
		e.sink.RecordBatchTrades(ctx, trades)
	}
	e.forwardResiduals(ctx, residual)

	e.finish(st, uniform, now, &outcome)
	e.logger.InfoContext(ctx, "batch executed",
		slog.String("batch_id", b.ID),
		slog.String("pair", b.Pair),
		slog.Int64("uniform_ticks", uniform),
		slog.Int("trades", len(trades)),
		slog.Int("skipped", len(outcome.Skipped)),
		slog.Int("residual", len(residual)),
	)
}

// finish records the clearing result on the shared batch state.
func (e *BatchEngine) finish(st *batchState, uniform int64, at time.Time, outcome *domain.BatchOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st.batch.UniformPriceTicks = uniform
	st.batch.ExecutedAt = &at
	st.outcome = outcome
}

// forwardResiduals hands unmatched batch volume to the router one order at
// a time, preserving priority order.
func (e *BatchEngine) forwardResiduals(ctx context.Context, orders []domain.Order) {
	for _, o := range orders {
		if o.RemainingUnits <= 0 {
			continue
		}
		o.AmountUnits = o.RemainingUnits
		if _, err := e.router.Route(ctx, o); err != nil {
			e.logger.WarnContext(ctx, "residual routing failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// exceedsImpactCap checks the order's execution price against its
// reference: the order's own limit, or the AMM spot for market orders.
func (e *BatchEngine) exceedsImpactCap(o domain.Order, uniform, refTicks int64) bool {
	ref := o.PriceTicks
	if o.Type == domain.OrderTypeMarket {
		ref = refTicks
	}
	if ref <= 0 {
		return false
	}
	diff := uniform - ref
	if diff < 0 {
		diff = -diff
	}
	return diff*10_000 > e.cfg.MaxImpactBps*ref
}

// DrainExecuted removes and returns outcomes of batches executed before
// the cutoff. The archiver calls this after the grace period.
func (e *BatchEngine) DrainExecuted(before time.Time) []domain.BatchOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.BatchOutcome
	for key, st := range e.pending {
		if st.outcome != nil && st.outcome.ExecutedAt.Before(before) {
			out = append(out, *st.outcome)
			delete(e.pending, key)
		}
	}
	return out
}

// gc drops executed batches past the grace period that nothing drained.
func (e *BatchEngine) gc() {
	horizon := time.Now().Add(-2 * e.cfg.Grace)
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, st := range e.pending {
		if st.outcome != nil && st.outcome.ExecutedAt.Before(horizon) {
			delete(e.pending, key)
		}
	}
}

// splitSides partitions and priority-sorts a batch's orders: buys by price
// descending, sells ascending, ties by reveal time. Market orders carry the
// best priority on their side.
func splitSides(orders []domain.Order) (buys, sells []domain.Order) {
	for _, o := range orders {
		if o.Side == domain.OrderSideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		pi, pj := sortTicks(buys[i]), sortTicks(buys[j])
		if pi != pj {
			return pi > pj
		}
		return buys[i].CreatedAt.Before(buys[j].CreatedAt)
	})
	sort.SliceStable(sells, func(i, j int) bool {
		pi, pj := sortTicks(sells[i]), sortTicks(sells[j])
		if pi != pj {
			return pi < pj
		}
		return sells[i].CreatedAt.Before(sells[j].CreatedAt)
	})
	return buys, sells
}

// sortTicks is the auction sort key: market buys cross any price, market
// sells likewise.
func sortTicks(o domain.Order) int64 {
	if o.Type == domain.OrderTypeMarket {
		if o.Side == domain.OrderSideBuy {
			return int64(1<<62 - 1)
		}
		return 0
	}
	return o.PriceTicks
}

// compatible reports whether the order's limit admits the uniform price.
func compatible(o domain.Order, uniform int64) bool {
	if o.Type == domain.OrderTypeMarket {
		return true
	}
	if o.Side == domain.OrderSideBuy {
		return o.PriceTicks >= uniform
	}
	return o.PriceTicks <= uniform
}

// uniformPrice finds the clearing price: the candidate maximizing crossed
// volume, where cumulative buy volume at-or-above meets cumulative sell
// volume at-or-below. Ties resolve toward the reference price. The result
// always lies within [best crossing bid, best crossing ask]; 0 means no
// crossing volume exists.
func uniformPrice(buys, sells []domain.Order, refTicks int64) int64 {
	candidates := map[int64]struct{}{}
	for _, o := range buys {
		if o.Type == domain.OrderTypeLimit {
			candidates[o.PriceTicks] = struct{}{}
		}
	}
	for _, o := range sells {
		if o.Type == domain.OrderTypeLimit {
			candidates[o.PriceTicks] = struct{}{}
		}
	}
	if len(candidates) == 0 {
		// All-market batch: clear at the reference price.
		if len(buys) > 0 && len(sells) > 0 {
			return refTicks
		}
		return 0
	}

	var best int64
	var bestVol int64 = -1
	for p := range candidates {
		var buyVol, sellVol int64
		for _, o := range buys {
			if o.Type == domain.OrderTypeMarket || o.PriceTicks >= p {
				buyVol += o.AmountUnits
			}
		}
		for _, o := range sells {
			if o.Type == domain.OrderTypeMarket || o.PriceTicks <= p {
				sellVol += o.AmountUnits
			}
		}
		vol := buyVol
		if sellVol < vol {
			vol = sellVol
		}
		if vol > bestVol || (vol == bestVol && closer(p, best, refTicks)) {
			best, bestVol = p, vol
		}
	}
	if bestVol <= 0 {
		return 0
	}
	return best
}

// closer reports whether a is nearer to ref than b.
func closer(a, b, ref int64) bool {
	da, db := a-ref, b-ref
	if da < 0 {
		da = -da
	}
	if db < 0 {
		db = -db
	}
	return da < db
}

// cross matches the eligible queues at the uniform price. Returns the
// trades and the orders (with updated remainders) left uncrossed.
func cross(pair, batchID string, buys, sells []domain.Order, uniform int64) ([]domain.Trade, []domain.Order) {
	var trades []domain.Trade
	bi, si := 0, 0
	now := time.Now().UTC()

	for bi < len(buys) && si < len(sells) {
		b, s := &buys[bi], &sells[si]

		qty := b.RemainingUnits
		if s.RemainingUnits < qty {
			qty = s.RemainingUnits
		}

		b.RemainingUnits -= qty
		s.RemainingUnits -= qty
		trades = append(trades, domain.Trade{
			ID:          uuid.New().String(),
			Pair:        pair,
			BuyOrderID:  b.ID,
			SellOrderID: s.ID,
			PriceTicks:  uniform,
			AmountUnits: qty,
			Timestamp:   now,
			Settlement:  domain.TradeSettlementNone,
			BatchID:     batchID,
		})

		if b.RemainingUnits == 0 {
			bi++
		}
		if s.RemainingUnits == 0 {
			si++
		}
	}

	residual := make([]domain.Order, 0, len(buys)-bi+len(sells)-si)
	residual = append(residual, buys[bi:]...)
	residual = append(residual, sells[si:]...)
	return trades, residual
}
