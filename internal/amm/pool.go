// Package amm provides clients for the automated market maker venue. The
// engine treats the AMM as an external price oracle and swap service: quoting
// is read-only and cheap, swap execution is asynchronous and owned by the
// settlement queue.
package amm

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/tradeforge/indexcore/internal/domain"
)

// MemoryPool is a constant-product pool held in process memory. It backs the
// in-memory operating mode and tests; the production venue is the on-chain
// client in this package.
type MemoryPool struct {
	mu       sync.Mutex
	reserves map[string]*reserves // pair -> pool depth
}

type reserves struct {
	base  *big.Int // index-asset units (1e6 fixed point)
	quote *big.Int // quote-asset units (1e6 fixed point)
}

// NewMemoryPool creates an empty pool set.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{reserves: make(map[string]*reserves)}
}

// SetLiquidity seeds (or replaces) a pair's reserves.
func (p *MemoryPool) SetLiquidity(pair string, baseUnits, quoteUnits int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserves[pair] = &reserves{
		base:  big.NewInt(baseUnits),
		quote: big.NewInt(quoteUnits),
	}
}

// SpotPrice returns the marginal price in ticks: quote/base * 1e6.
func (p *MemoryPool) SpotPrice(_ context.Context, pair string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reserves[pair]
	if !ok {
		return 0, domain.ErrVenueUnavailable
	}
	return spotTicks(r), nil
}

// Quote prices a hypothetical trade of amountUnits of the base asset against
// current reserves without mutating them.
func (p *MemoryPool) Quote(_ context.Context, pair string, side domain.OrderSide, amountUnits int64) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reserves[pair]
	if !ok {
		return domain.Quote{}, domain.ErrVenueUnavailable
	}
	return quoteAgainst(r, pair, side, amountUnits)
}

// ExecuteSwap trades against the pool, mutating reserves. It honours the
// slippage bound in opts and fabricates a deterministic receipt, standing in
// for an on-chain confirmation.
func (p *MemoryPool) ExecuteSwap(ctx context.Context, pair string, side domain.OrderSide, amountUnits int64, opts domain.SwapOpts) (domain.SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SwapResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reserves[pair]
	if !ok {
		return domain.SwapResult{}, domain.ErrVenueUnavailable
	}

	q, err := quoteAgainst(r, pair, side, amountUnits)
	if err != nil {
		return domain.SwapResult{}, err
	}
	if opts.LimitTicks > 0 {
		if side == domain.OrderSideBuy && q.EffectiveTicks > opts.LimitTicks {
			return domain.SwapResult{}, domain.ErrInsufficientLiquidity
		}
		if side == domain.OrderSideSell && q.EffectiveTicks < opts.LimitTicks {
			return domain.SwapResult{}, domain.ErrInsufficientLiquidity
		}
	}

	amt := big.NewInt(amountUnits)
	out := big.NewInt(q.OutUnits)
	if side == domain.OrderSideBuy {
		r.base.Sub(r.base, amt)
		r.quote.Add(r.quote, out)
	} else {
		r.base.Add(r.base, amt)
		r.quote.Sub(r.quote, out)
	}

	txHash := ethcrypto.Keccak256([]byte(uuid.New().String()))
	return domain.SwapResult{
		TxHash:         "0x" + hex.EncodeToString(txHash),
		BlockNumber:    uint64(time.Now().Unix()),
		GasUsed:        90_000,
		EffectiveTicks: q.EffectiveTicks,
		OutUnits:       q.OutUnits,
		ConfirmedAt:    time.Now().UTC(),
	}, nil
}

// spotTicks computes quote/base scaled to 1e6 ticks.
func spotTicks(r *reserves) int64 {
	num := new(big.Int).Mul(r.quote, big.NewInt(1e6))
	num.Div(num, r.base)
	return num.Int64()
}

// quoteAgainst prices an amount with x*y=k math. A buy removes base from the
// pool (quote in); a sell adds base (quote out).
func quoteAgainst(r *reserves, pair string, side domain.OrderSide, amountUnits int64) (domain.Quote, error) {
	if amountUnits <= 0 {
		return domain.Quote{}, domain.ErrInvalidOrder
	}
	amt := big.NewInt(amountUnits)
	spot := spotTicks(r)
	k := new(big.Int).Mul(r.base, r.quote)

	var quoteMoved *big.Int
	if side == domain.OrderSideBuy {
		newBase := new(big.Int).Sub(r.base, amt)
		if newBase.Sign() <= 0 {
			return domain.Quote{}, domain.ErrInsufficientLiquidity
		}
		newQuote := new(big.Int).Div(k, newBase)
		quoteMoved = new(big.Int).Sub(newQuote, r.quote)
	} else {
		newBase := new(big.Int).Add(r.base, amt)
		newQuote := new(big.Int).Div(k, newBase)
		quoteMoved = new(big.Int).Sub(r.quote, newQuote)
	}

	// effective price ticks = quoteMoved * 1e6 / amount
	eff := new(big.Int).Mul(quoteMoved, big.NewInt(1e6))
	eff.Div(eff, amt)
	effTicks := eff.Int64()

	impact := effTicks - spot
	if impact < 0 {
		impact = -impact
	}
	impactBps := int64(0)
	if spot > 0 {
		impactBps = impact * 10_000 / spot
	}

	return domain.Quote{
		Pair:           pair,
		Side:           side,
		AmountUnits:    amountUnits,
		SpotTicks:      spot,
		EffectiveTicks: effTicks,
		OutUnits:       quoteMoved.Int64(),
		ImpactBps:      impactBps,
	}, nil
}

// Compile-time interface checks.
var (
	_ domain.Quoter  = (*MemoryPool)(nil)
	_ domain.Swapper = (*MemoryPool)(nil)
)
