// Package router decides, per order, whether it executes against the resting
// book, the AMM pool, or both. Limit orders are validated against the AMM
// reference price; market orders are split iteratively across both venues as
// their prices move.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/indexcore/internal/domain"
)

// BookVenue is the slice of the matching engine the router needs.
type BookVenue interface {
	Submit(ctx context.Context, o domain.Order) (domain.MatchResult, error)
	Snapshot(pair string, depth int) domain.BookSnapshot
}

// Enqueuer hands AMM legs to the settlement pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.SettlementRequest) error
}

// Config holds the routing policy. All ratios are operating constants set
// from configuration, never derived at runtime.
type Config struct {
	// ChunkFraction is the share of the remaining amount probed per
	// iteration of the market-order split loop.
	ChunkFraction float64
	// MaxIterations bounds the split loop to keep latency predictable.
	MaxIterations int
	// DustUnits is the epsilon below which a remainder is considered filled.
	DustUnits int64
	// LargeOrderThresholdUnits marks an order as "large".
	LargeOrderThresholdUnits int64
	// LargeOrderAMMFraction is routed straight to the AMM for large market
	// orders before the split loop runs.
	LargeOrderAMMFraction float64
	// HighPriorityUnits escalates big AMM legs to the high settlement lane.
	HighPriorityUnits int64
	// MaxRetries is stamped onto settlement requests the router creates.
	MaxRetries int
	// SlippageBps widens the quoted effective price into the worst
	// acceptable execution price for the on-chain leg.
	SlippageBps int64
	// SwapDeadline bounds each on-chain attempt.
	SwapDeadline time.Duration
	// SnapshotDepth is how many levels a book probe walks.
	SnapshotDepth int
}

// DefaultConfig returns the routing defaults.
func DefaultConfig() Config {
	return Config{
		ChunkFraction:            0.25,
		MaxIterations:            16,
		DustUnits:                1_000, // 0.001 of the base asset
		LargeOrderThresholdUnits: 1_000_000_000,
		LargeOrderAMMFraction:    0.4,
		HighPriorityUnits:        500_000_000,
		MaxRetries:               3,
		SlippageBps:              50,
		SwapDeadline:             30 * time.Second,
		SnapshotDepth:            50,
	}
}

// Router implements the two-venue routing decision.
type Router struct {
	cfg    Config
	books  BookVenue
	quoter domain.Quoter
	lanes  Enqueuer
	logger *slog.Logger
}

// New creates a Router.
func New(cfg Config, books BookVenue, quoter domain.Quoter, lanes Enqueuer, logger *slog.Logger) *Router {
	return &Router{
		cfg:    cfg,
		books:  books,
		quoter: quoter,
		lanes:  lanes,
		logger: logger.With(slog.String("component", "router")),
	}
}

// Route executes the order across the book and the AMM. AMM fills are
// estimates until their settlement requests confirm; the report lists the
// settlement ids to poll.
func (r *Router) Route(ctx context.Context, o domain.Order) (domain.ExecutionReport, error) {
	switch o.Type {
	case domain.OrderTypeLimit:
		return r.routeLimit(ctx, o)
	case domain.OrderTypeMarket:
		return r.routeMarket(ctx, o)
	default:
		return domain.ExecutionReport{}, domain.ErrInvalidOrder
	}
}

// routeLimit validates the limit price against the AMM reference and rests
// the order on the book. A limit order must never rest at a price strictly
// worse than the guaranteed on-chain alternative.
func (r *Router) routeLimit(ctx context.Context, o domain.Order) (domain.ExecutionReport, error) {
	ref, err := r.quoter.SpotPrice(ctx, o.Pair)
	if err != nil {
		// Without a reference price the protection check cannot run.
		return domain.ExecutionReport{}, fmt.Errorf("router: amm reference for %s: %w", o.Pair, domain.ErrVenueUnavailable)
	}

	if o.Side == domain.OrderSideBuy && o.PriceTicks > ref {
		return domain.ExecutionReport{}, fmt.Errorf("router: buy limit %d above amm reference %d: %w", o.PriceTicks, ref, domain.ErrPriceValidation)
	}
	if o.Side == domain.OrderSideSell && o.PriceTicks < ref {
		return domain.ExecutionReport{}, fmt.Errorf("router: sell limit %d below amm reference %d: %w", o.PriceTicks, ref, domain.ErrPriceValidation)
	}

	res, err := r.books.Submit(ctx, o)
	if err != nil {
		return domain.ExecutionReport{}, err
	}

	return domain.ExecutionReport{
		OrderID:        o.ID,
		Status:         limitStatus(res),
		Trades:         res.Trades,
		FilledUnits:    res.FilledUnits,
		RemainingUnits: res.RemainingUnits,
		AvgPriceTicks:  weightedAvg(res.Trades),
		BookUnits:      res.FilledUnits,
	}, nil
}

// weightedAvg returns the amount-weighted mean price across the trades.
func weightedAvg(trades []domain.Trade) int64 {
	var sum, units int64
	for _, t := range trades {
		sum += t.PriceTicks * t.AmountUnits
		units += t.AmountUnits
	}
	if units == 0 {
		return 0
	}
	return sum / units
}

func limitStatus(res domain.MatchResult) domain.OrderStatus {
	switch {
	case res.RemainingUnits == 0:
		return domain.OrderStatusFilled
	case res.FilledUnits > 0:
		return domain.OrderStatusPartial
	default:
		return domain.OrderStatusOpen
	}
}

// routeMarket iteratively splits a market order across both venues,
// re-quoting after every chunk since consuming liquidity moves both prices.
func (r *Router) routeMarket(ctx context.Context, o domain.Order) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		OrderID: o.ID,
		Status:  domain.OrderStatusOpen,
	}

	remaining := o.AmountUnits
	var filled int64
	var sumPriceUnits int64 // sum(effectiveTicks * units) for averaging
	ammDown := false

	// Large orders send a configured share straight to the AMM. This ratio
	// is an operating policy knob, not a tuned value.
	if o.AmountUnits >= r.cfg.LargeOrderThresholdUnits && r.cfg.LargeOrderAMMFraction > 0 {
		upfront := int64(float64(o.AmountUnits) * r.cfg.LargeOrderAMMFraction)
		if upfront > 0 {
			q, err := r.quoter.Quote(ctx, o.Pair, o.Side, upfront)
			if err != nil {
				ammDown = true
				r.logger.WarnContext(ctx, "amm unavailable for large-order leg",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
			} else {
				if err := r.enqueueAMMLeg(ctx, &report, o, upfront, q); err != nil {
					return report, err
				}
				remaining -= upfront
				filled += upfront
				report.AMMUnits += upfront
				sumPriceUnits += q.EffectiveTicks * upfront
			}
		}
	}

split:
	for iter := 0; iter < r.cfg.MaxIterations && remaining > r.cfg.DustUnits; iter++ {
		chunk := int64(float64(remaining) * r.cfg.ChunkFraction)
		if chunk < r.cfg.DustUnits || iter == r.cfg.MaxIterations-1 {
			chunk = remaining
		}

		bookUnits, bookTicks := r.probeBook(o.Pair, o.Side, chunk)

		var ammQuote domain.Quote
		ammOK := false
		if !ammDown {
			q, err := r.quoter.Quote(ctx, o.Pair, o.Side, chunk)
			if err != nil {
				// Fail closed for the AMM leg only; the book-eligible
				// portion may still fill.
				ammDown = true
				r.logger.WarnContext(ctx, "amm quote failed, continuing book-only",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
			} else {
				ammQuote = q
				ammOK = true
			}
		}

		useBook := bookUnits > 0 && (!ammOK || better(o.Side, bookTicks, ammQuote.EffectiveTicks))

		switch {
		case useBook:
			units := min64(chunk, bookUnits)
			chunkOrder := domain.Order{
				ID:          fmt.Sprintf("%s.%d", o.ID, iter),
				UserID:      o.UserID,
				Pair:        o.Pair,
				Side:        o.Side,
				Type:        domain.OrderTypeMarket,
				AmountUnits: units,
			}
			res, err := r.books.Submit(ctx, chunkOrder)
			if err != nil {
				return report, err
			}
			report.Trades = append(report.Trades, res.Trades...)
			report.BookUnits += res.FilledUnits
			remaining -= res.FilledUnits
			filled += res.FilledUnits
			for _, t := range res.Trades {
				sumPriceUnits += t.PriceTicks * t.AmountUnits
			}
			if res.FilledUnits == 0 && !ammOK {
				// Book depth was consumed concurrently and the AMM is
				// down; nothing left to route against.
				break split
			}
		case ammOK:
			if err := r.enqueueAMMLeg(ctx, &report, o, chunk, ammQuote); err != nil {
				return report, err
			}
			remaining -= chunk
			filled += chunk
			report.AMMUnits += chunk
			sumPriceUnits += ammQuote.EffectiveTicks * chunk
		default:
			// Neither venue can take the chunk.
			break split
		}
	}

	report.FilledUnits = filled
	report.RemainingUnits = remaining
	if filled > 0 {
		report.AvgPriceTicks = sumPriceUnits / filled
	}
	report.Estimated = report.AMMUnits > 0

	switch {
	case remaining > r.cfg.DustUnits:
		report.Status = domain.OrderStatusRejected
		if filled > 0 {
			report.Status = domain.OrderStatusPartial
		}
		return report, fmt.Errorf("router: %d units unfilled after %d iterations: %w",
			remaining, r.cfg.MaxIterations, domain.ErrInsufficientLiquidity)
	default:
		report.Status = domain.OrderStatusFilled
		return report, nil
	}
}

// enqueueAMMLeg creates a settlement request for an AMM chunk and records
// the estimated fill on the report.
func (r *Router) enqueueAMMLeg(ctx context.Context, report *domain.ExecutionReport, o domain.Order, units int64, q domain.Quote) error {
	priority := domain.PriorityNormal
	if units >= r.cfg.HighPriorityUnits {
		priority = domain.PriorityHigh
	}

	req := domain.SettlementRequest{
		ID:          uuid.New().String(),
		OrderID:     o.ID,
		Pair:        o.Pair,
		Side:        o.Side,
		AmountUnits: units,
		LimitTicks:  r.slippageLimit(o.Side, q.EffectiveTicks),
		Priority:    priority,
		MaxRetries:  r.cfg.MaxRetries,
		Status:      domain.SettlementPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.lanes.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("router: enqueue settlement for %s: %w", o.ID, err)
	}

	report.SettlementIDs = append(report.SettlementIDs, req.ID)
	r.logger.InfoContext(ctx, "amm leg enqueued",
		slog.String("order_id", o.ID),
		slog.String("settlement_id", req.ID),
		slog.Int64("units", units),
		slog.Int64("effective_ticks", q.EffectiveTicks),
		slog.Int64("impact_bps", q.ImpactBps),
	)
	return nil
}

// slippageLimit turns a quoted effective price into the worst acceptable
// execution price for the on-chain leg. A buy tolerates paying up to
// SlippageBps more; a sell tolerates receiving up to SlippageBps less.
func (r *Router) slippageLimit(side domain.OrderSide, effectiveTicks int64) int64 {
	if r.cfg.SlippageBps <= 0 {
		return effectiveTicks
	}
	if side == domain.OrderSideBuy {
		return effectiveTicks * (10_000 + r.cfg.SlippageBps) / 10_000
	}
	return effectiveTicks * (10_000 - r.cfg.SlippageBps) / 10_000
}

// probeBook walks the opposite side's snapshot read-only and returns how
// many units are fillable up to the chunk size and their weighted price.
func (r *Router) probeBook(pair string, side domain.OrderSide, chunk int64) (units, avgTicks int64) {
	snap := r.books.Snapshot(pair, r.cfg.SnapshotDepth)

	levels := snap.Asks
	if side == domain.OrderSideSell {
		levels = snap.Bids
	}

	var sum int64
	for _, lvl := range levels {
		take := min64(chunk-units, lvl.AmountUnits)
		if take <= 0 {
			break
		}
		units += take
		sum += take * lvl.PriceTicks
	}
	if units > 0 {
		avgTicks = sum / units
	}
	return units, avgTicks
}

// better reports whether the book price beats the AMM price for the taker.
func better(side domain.OrderSide, bookTicks, ammTicks int64) bool {
	if side == domain.OrderSideBuy {
		return bookTicks <= ammTicks
	}
	return bookTicks >= ammTicks
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// IsTerminal reports whether a routing error leaves nothing for the caller
// to retry.
func IsTerminal(err error) bool {
	return errors.Is(err, domain.ErrPriceValidation) || errors.Is(err, domain.ErrInvalidOrder)
}
