package book

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tradeforge/indexcore/internal/domain"
)

// TradeRecorder persists and publishes trades produced outside the matching
// engine, such as batch auction crosses. It reuses the engine's write-behind
// persister so batch fills land in the same store tables as book fills.
type TradeRecorder struct {
	flush  *Persister
	bus    domain.SignalBus // nil disables publishing
	logger *slog.Logger
}

// NewTradeRecorder creates a TradeRecorder on the given persister and bus.
func NewTradeRecorder(flush *Persister, bus domain.SignalBus, logger *slog.Logger) *TradeRecorder {
	return &TradeRecorder{
		flush:  flush,
		bus:    bus,
		logger: logger.With(slog.String("component", "trade_recorder")),
	}
}

// RecordBatchTrades enqueues the trades for persistence and fans them out on
// the per-pair trade channels.
func (r *TradeRecorder) RecordBatchTrades(ctx context.Context, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}

	if r.flush != nil {
		r.flush.Enqueue(domain.BookMutation{Trades: trades})
	}

	if r.bus != nil {
		for _, t := range trades {
			if payload, err := json.Marshal(t); err == nil {
				_ = r.bus.Publish(ctx, "trades:"+t.Pair, payload)
			}
		}
	}

	r.logger.DebugContext(ctx, "recorded batch trades",
		slog.Int("trades", len(trades)),
	)
}
