package amm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tradeforge/indexcore/internal/crypto"
	"github.com/tradeforge/indexcore/internal/domain"
)

// poolABI is the minimal surface of the index pool contract: read-only
// quoting plus the swap entry point.
const poolABI = `[
	{"type":"function","name":"spotPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"quote","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"baseForQuote","type":"bool"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},{"name":"baseForQuote","type":"bool"},{"name":"to","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// receiptPollInterval paces the wait for swap confirmation.
const receiptPollInterval = 500 * time.Millisecond

// OnChainConfig holds the RPC endpoint and the pair -> pool address map.
type OnChainConfig struct {
	RPCURL   string
	Pools    map[string]string // pair -> pool contract address
	GasLimit uint64
}

// OnChain is the production AMM venue: quotes via eth_call against the pool
// contract and swaps via signed transactions.
type OnChain struct {
	client   *ethclient.Client
	signer   *crypto.TxSigner
	abi      abi.ABI
	pools    map[string]common.Address
	gasLimit uint64
}

// NewOnChain dials the RPC endpoint and prepares the pool bindings.
func NewOnChain(ctx context.Context, cfg OnChainConfig, signer *crypto.TxSigner) (*OnChain, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("amm: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("amm: parse pool abi: %w", err)
	}

	pools := make(map[string]common.Address, len(cfg.Pools))
	for pair, addr := range cfg.Pools {
		pools[pair] = common.HexToAddress(addr)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 300_000
	}

	return &OnChain{
		client:   client,
		signer:   signer,
		abi:      parsed,
		pools:    pools,
		gasLimit: gasLimit,
	}, nil
}

// Close releases the RPC connection.
func (c *OnChain) Close() {
	c.client.Close()
}

func (c *OnChain) pool(pair string) (common.Address, error) {
	addr, ok := c.pools[pair]
	if !ok {
		return common.Address{}, fmt.Errorf("amm: no pool for pair %s: %w", pair, domain.ErrVenueUnavailable)
	}
	return addr, nil
}

// call performs a read-only contract call and unpacks a single uint256.
func (c *OnChain) call(ctx context.Context, addr common.Address, method string, args ...any) (*big.Int, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("amm: pack %s: %w", method, err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("amm: call %s: %w", method, domain.ErrVenueUnavailable)
	}

	vals, err := c.abi.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("amm: unpack %s: %w", method, err)
	}
	result, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amm: unexpected %s result type %T", method, vals[0])
	}
	return result, nil
}

// SpotPrice reads the pool's marginal price in 1e6 ticks.
func (c *OnChain) SpotPrice(ctx context.Context, pair string) (int64, error) {
	addr, err := c.pool(pair)
	if err != nil {
		return 0, err
	}
	spot, err := c.call(ctx, addr, "spotPrice")
	if err != nil {
		return 0, err
	}
	return spot.Int64(), nil
}

// Quote prices a trade of amountUnits base against the pool contract.
func (c *OnChain) Quote(ctx context.Context, pair string, side domain.OrderSide, amountUnits int64) (domain.Quote, error) {
	addr, err := c.pool(pair)
	if err != nil {
		return domain.Quote{}, err
	}

	spot, err := c.call(ctx, addr, "spotPrice")
	if err != nil {
		return domain.Quote{}, err
	}
	out, err := c.call(ctx, addr, "quote", big.NewInt(amountUnits), side == domain.OrderSideSell)
	if err != nil {
		return domain.Quote{}, err
	}

	eff := new(big.Int).Mul(out, big.NewInt(1e6))
	eff.Div(eff, big.NewInt(amountUnits))
	effTicks := eff.Int64()
	spotTicks := spot.Int64()

	impact := effTicks - spotTicks
	if impact < 0 {
		impact = -impact
	}
	impactBps := int64(0)
	if spotTicks > 0 {
		impactBps = impact * 10_000 / spotTicks
	}

	return domain.Quote{
		Pair:           pair,
		Side:           side,
		AmountUnits:    amountUnits,
		SpotTicks:      spotTicks,
		EffectiveTicks: effTicks,
		OutUnits:       out.Int64(),
		ImpactBps:      impactBps,
	}, nil
}

// ExecuteSwap signs and sends a swap transaction, then waits for the receipt
// within the attempt deadline. The signer admits one in-flight transaction
// per key, so nonces never collide.
func (c *OnChain) ExecuteSwap(ctx context.Context, pair string, side domain.OrderSide, amountUnits int64, opts domain.SwapOpts) (domain.SwapResult, error) {
	addr, err := c.pool(pair)
	if err != nil {
		return domain.SwapResult{}, err
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	// Pre-trade quote enforces the slippage bound before spending gas.
	q, err := c.Quote(ctx, pair, side, amountUnits)
	if err != nil {
		return domain.SwapResult{}, err
	}
	minOut := q.OutUnits
	if opts.LimitTicks > 0 {
		if side == domain.OrderSideBuy && q.EffectiveTicks > opts.LimitTicks {
			return domain.SwapResult{}, domain.ErrInsufficientLiquidity
		}
		if side == domain.OrderSideSell && q.EffectiveTicks < opts.LimitTicks {
			return domain.SwapResult{}, domain.ErrInsufficientLiquidity
		}
	}

	data, err := c.abi.Pack("swap",
		big.NewInt(amountUnits),
		big.NewInt(minOut),
		side == domain.OrderSideSell,
		c.signer.Address(),
	)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("amm: pack swap: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("amm: gas price: %w", domain.ErrVenueUnavailable)
	}

	nonce, release, err := c.signer.ReserveNonce(ctx, c.client)
	if err != nil {
		return domain.SwapResult{}, err
	}

	tx := types.NewTransaction(nonce, addr, big.NewInt(0), c.gasLimit, gasPrice, data)
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		release(false)
		return domain.SwapResult{}, err
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		release(false)
		return domain.SwapResult{}, fmt.Errorf("amm: send swap tx: %w", err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		release(false)
		return domain.SwapResult{}, err
	}
	release(true)

	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.SwapResult{}, fmt.Errorf("amm: swap reverted in tx %s: %w", signed.Hash(), domain.ErrSettlementFailed)
	}

	return domain.SwapResult{
		TxHash:         signed.Hash().Hex(),
		BlockNumber:    receipt.BlockNumber.Uint64(),
		GasUsed:        receipt.GasUsed,
		EffectiveTicks: q.EffectiveTicks,
		OutUnits:       q.OutUnits,
		ConfirmedAt:    time.Now().UTC(),
	}, nil
}

// waitMined polls for the transaction receipt until the context expires.
func (c *OnChain) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("amm: tx %s not mined: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.Quoter  = (*OnChain)(nil)
	_ domain.Swapper = (*OnChain)(nil)
)
