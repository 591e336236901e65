package amm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

func seededPool(baseUnits, quoteUnits int64) *MemoryPool {
	p := NewMemoryPool()
	p.SetLiquidity("WBTC-USDC", baseUnits, quoteUnits)
	return p
}

func TestSpotPriceFromReserves(t *testing.T) {
	// 1000 base vs 2000 quote -> spot of 2.0.
	p := seededPool(1_000_000_000, 2_000_000_000)

	spot, err := p.SpotPrice(context.Background(), "WBTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), spot)
}

func TestSpotPriceUnknownPair(t *testing.T) {
	p := NewMemoryPool()

	_, err := p.SpotPrice(context.Background(), "WETH-USDC")
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}

func TestQuoteBuyMovesPriceUp(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	q, err := p.Quote(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 100_000_000)
	require.NoError(t, err)

	// Removing 10% of base from an x*y=k pool costs more than spot.
	assert.Equal(t, int64(1_000_000), q.SpotTicks)
	assert.Greater(t, q.EffectiveTicks, q.SpotTicks)
	assert.Greater(t, q.ImpactBps, int64(0))
	assert.Greater(t, q.OutUnits, int64(100_000_000))
}

func TestQuoteSellMovesPriceDown(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	q, err := p.Quote(context.Background(), "WBTC-USDC", domain.OrderSideSell, 100_000_000)
	require.NoError(t, err)

	assert.Less(t, q.EffectiveTicks, q.SpotTicks)
	assert.Less(t, q.OutUnits, int64(100_000_000))
}

func TestQuoteDoesNotMutateReserves(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	before, err := p.SpotPrice(context.Background(), "WBTC-USDC")
	require.NoError(t, err)

	_, err = p.Quote(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 200_000_000)
	require.NoError(t, err)

	after, err := p.SpotPrice(context.Background(), "WBTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestQuoteRejectsNonPositiveAmount(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	_, err := p.Quote(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestQuoteBuyExhaustingPool(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	_, err := p.Quote(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 1_000_000_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestExecuteSwapMutatesReserves(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	res, err := p.ExecuteSwap(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 100_000_000, domain.SwapOpts{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxHash)
	assert.Greater(t, res.OutUnits, int64(0))

	// Buying base leaves the pool short of base, so spot rises.
	spot, err := p.SpotPrice(context.Background(), "WBTC-USDC")
	require.NoError(t, err)
	assert.Greater(t, spot, int64(1_000_000))
}

func TestExecuteSwapHonoursLimit(t *testing.T) {
	p := seededPool(1_000_000_000, 1_000_000_000)

	// A large buy at the current spot as the limit must fail on slippage.
	_, err := p.ExecuteSwap(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 100_000_000, domain.SwapOpts{
		LimitTicks: 1_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	// The same order with a generous limit succeeds.
	_, err = p.ExecuteSwap(context.Background(), "WBTC-USDC", domain.OrderSideBuy, 100_000_000, domain.SwapOpts{
		LimitTicks: 2_000_000,
	})
	assert.NoError(t, err)
}
