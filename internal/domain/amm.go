package domain

import (
	"context"
	"time"
)

// Quote is the AMM's answer to "what would trading this amount cost".
// EffectiveTicks already includes the price impact of consuming pool depth.
type Quote struct {
	Pair           string
	Side           OrderSide
	AmountUnits    int64
	SpotTicks      int64 // marginal price before the trade
	EffectiveTicks int64 // amount-weighted execution price
	OutUnits       int64 // output amount after the swap
	ImpactBps      int64 // |effective-spot|/spot in basis points
}

// Quoter exposes the AMM's read-only quoting function. Implementations must
// be safe for concurrent use; quotes are taken without any book lock held.
type Quoter interface {
	Quote(ctx context.Context, pair string, side OrderSide, amountUnits int64) (Quote, error)
	SpotPrice(ctx context.Context, pair string) (int64, error)
}

// SwapOpts bounds an on-chain swap execution.
type SwapOpts struct {
	LimitTicks int64         // worst acceptable effective price, 0 = unbounded
	Deadline   time.Duration // per-attempt timeout
}

// SwapResult describes a confirmed on-chain swap.
type SwapResult struct {
	TxHash         string
	BlockNumber    uint64
	GasUsed        uint64
	EffectiveTicks int64
	OutUnits       int64
	ConfirmedAt    time.Time
}

// Swapper executes the on-chain leg of an AMM trade. Execution is inherently
// asynchronous from the caller's perspective; the settlement queue owns the
// only code path that calls ExecuteSwap.
type Swapper interface {
	ExecuteSwap(ctx context.Context, pair string, side OrderSide, amountUnits int64, opts SwapOpts) (SwapResult, error)
}

// AMM is a full venue that both quotes and executes swaps.
type AMM interface {
	Quoter
	Swapper
}
