package mev

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/crypto"
	"github.com/tradeforge/indexcore/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// memCommitments is an in-process CommitmentStore for tests.
type memCommitments struct {
	mu sync.Mutex
	m  map[string]domain.Commitment
}

func newMemCommitments() *memCommitments {
	return &memCommitments{m: make(map[string]domain.Commitment)}
}

func (s *memCommitments) Put(_ context.Context, c domain.Commitment, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[c.ID]; ok {
		return domain.ErrDuplicateCommitment
	}
	s.m[c.ID] = c
	return nil
}

func (s *memCommitments) Get(_ context.Context, id string) (domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.Commitment{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memCommitments) TakeForReveal(_ context.Context, id string) (domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.Commitment{}, domain.ErrNotFound
	}
	delete(s.m, id)
	return c, nil
}

type memRisk struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMemRisk() *memRisk { return &memRisk{m: make(map[string]int64)} }

func (r *memRisk) AddScore(_ context.Context, userID string, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[userID] += delta
	return r.m[userID], nil
}

func (r *memRisk) Score(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[userID], nil
}

type memLimiter struct {
	mu sync.Mutex
	m  map[string]int
}

func newMemLimiter() *memLimiter { return &memLimiter{m: make(map[string]int)} }

func (l *memLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[key]++
	return l.m[key] <= limit, nil
}

type captureRouter struct {
	mu     sync.Mutex
	routed []domain.Order
}

func (r *captureRouter) Route(_ context.Context, o domain.Order) (domain.ExecutionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, o)
	return domain.ExecutionReport{OrderID: o.ID, FilledUnits: o.AmountUnits}, nil
}

type fixedQuoter struct {
	spot int64
	err  error
}

func (q fixedQuoter) Quote(_ context.Context, pair string, side domain.OrderSide, amountUnits int64) (domain.Quote, error) {
	if q.err != nil {
		return domain.Quote{}, q.err
	}
	return domain.Quote{
		Pair:           pair,
		Side:           side,
		AmountUnits:    amountUnits,
		SpotTicks:      q.spot,
		EffectiveTicks: q.spot,
	}, nil
}

func (q fixedQuoter) SpotPrice(context.Context, string) (int64, error) {
	return q.spot, q.err
}

type captureSink struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *captureSink) RecordBatchTrades(_ context.Context, trades []domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
}

type guardFixture struct {
	guard  *Guard
	engine *BatchEngine
	risk   *memRisk
	router *captureRouter
	signer *crypto.TxSigner
}

func newGuardFixture(t *testing.T, cfg Config) *guardFixture {
	t.Helper()
	signer, err := crypto.NewTxSigner(testKey, 1)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	router := &captureRouter{}
	// A long window keeps guard-path tests out of batch execution.
	bcfg := DefaultBatchConfig()
	bcfg.Window = time.Hour
	engine := NewBatchEngine(bcfg, router, fixedQuoter{spot: 1_000_000}, nil, logger)
	risk := newMemRisk()
	guard := NewGuard(cfg, newMemCommitments(), risk, newMemLimiter(), engine, logger)
	return &guardFixture{guard: guard, engine: engine, risk: risk, router: router, signer: signer}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// commitReveal runs the full commit-reveal handshake for a payload.
func (f *guardFixture) commitReveal(t *testing.T, p domain.OrderPayload) (domain.RevealReceipt, error) {
	t.Helper()
	ctx := context.Background()

	payload, err := json.Marshal(p)
	require.NoError(t, err)
	sig, err := f.signer.SignPayload(payload)
	require.NoError(t, err)
	hash, err := crypto.PayloadHash(payload, sig)
	require.NoError(t, err)

	receipt, err := f.guard.Commit(ctx, f.signer.Address().Hex(), hash, sig)
	require.NoError(t, err)
	return f.guard.Reveal(ctx, receipt.CommitmentID, payload, sig)
}

func zeroDelayConfig() Config {
	cfg := DefaultConfig()
	cfg.CommitRevealDelay = 0
	return cfg
}

func TestCommitValidation(t *testing.T) {
	f := newGuardFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.guard.Commit(ctx, "", "0xabcd", "sig")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = f.guard.Commit(ctx, "user", "not-a-hash", "sig")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestRevealTooEarly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommitRevealDelay = time.Hour
	f := newGuardFixture(t, cfg)

	_, err := f.commitReveal(t, domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 10, Nonce: 1,
	})
	assert.ErrorIs(t, err, domain.ErrRevealTooEarly)
}

func TestRevealUnknownCommitment(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())

	_, err := f.guard.Reveal(context.Background(), "missing", []byte("{}"), "0xab")
	assert.ErrorIs(t, err, domain.ErrRevealExpired)
}

func TestRevealPayloadMismatch(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())
	ctx := context.Background()

	payload, _ := json.Marshal(domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 10, Nonce: 1,
	})
	sig, err := f.signer.SignPayload(payload)
	require.NoError(t, err)
	hash, err := crypto.PayloadHash(payload, sig)
	require.NoError(t, err)

	receipt, err := f.guard.Commit(ctx, f.signer.Address().Hex(), hash, sig)
	require.NoError(t, err)

	other, _ := json.Marshal(domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 11, Nonce: 1,
	})
	_, err = f.guard.Reveal(ctx, receipt.CommitmentID, other, sig)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)
}

func TestRevealBadSignature(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())
	ctx := context.Background()

	payload, _ := json.Marshal(domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 10, Nonce: 1,
	})
	// Signed by a different key than the committing user claims.
	stranger, err := crypto.NewTxSigner("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f", 1)
	require.NoError(t, err)
	sig, err := stranger.SignPayload(payload)
	require.NoError(t, err)
	hash, err := crypto.PayloadHash(payload, sig)
	require.NoError(t, err)

	receipt, err := f.guard.Commit(ctx, f.signer.Address().Hex(), hash, sig)
	require.NoError(t, err)

	_, err = f.guard.Reveal(ctx, receipt.CommitmentID, payload, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestRevealHappyPathAssignsBatch(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())

	receipt, err := f.commitReveal(t, domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 10, Nonce: 1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.BatchID)
	assert.True(t, receipt.EstimatedExecutionTime.After(time.Now()))
}

func TestRevealExactlyOnce(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())
	ctx := context.Background()

	payload, _ := json.Marshal(domain.OrderPayload{
		Pair: "IDX-USDC", Side: "sell", Type: "limit", Price: 1.01, Amount: 5, Nonce: 2,
	})
	sig, err := f.signer.SignPayload(payload)
	require.NoError(t, err)
	hash, err := crypto.PayloadHash(payload, sig)
	require.NoError(t, err)

	receipt, err := f.guard.Commit(ctx, f.signer.Address().Hex(), hash, sig)
	require.NoError(t, err)

	_, err = f.guard.Reveal(ctx, receipt.CommitmentID, payload, sig)
	require.NoError(t, err)

	// A second reveal of the same commitment must not admit another order.
	_, err = f.guard.Reveal(ctx, receipt.CommitmentID, payload, sig)
	assert.ErrorIs(t, err, domain.ErrRevealExpired)
}

func TestDetectSandwich(t *testing.T) {
	f := newGuardFixture(t, DefaultConfig())
	now := time.Now().UTC()

	// Attacker opens, victim trades, attacker closes with near-equal size.
	f.guard.history.record(domain.Order{
		UserID: "attacker", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		PriceTicks: 990_000, AmountUnits: 10_000_000, CreatedAt: now.Add(-2 * time.Second),
	})
	f.guard.history.record(domain.Order{
		UserID: "victim", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		PriceTicks: 990_000, AmountUnits: 50_000_000, CreatedAt: now.Add(-time.Second),
	})

	closing := domain.Order{
		UserID: "attacker", Pair: "IDX-USDC", Side: domain.OrderSideSell,
		Type: domain.OrderTypeLimit, PriceTicks: 995_000, AmountUnits: 10_500_000, CreatedAt: now,
	}
	assert.True(t, f.guard.detectSandwich(closing))

	// Without a bracketed victim the same pattern is just a round trip.
	g2 := newGuardFixture(t, DefaultConfig())
	g2.guard.history.record(domain.Order{
		UserID: "attacker", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		PriceTicks: 990_000, AmountUnits: 10_000_000, CreatedAt: now.Add(-2 * time.Second),
	})
	assert.False(t, g2.guard.detectSandwich(closing))
}

func TestDetectFrontRun(t *testing.T) {
	f := newGuardFixture(t, DefaultConfig())
	now := time.Now().UTC()

	f.guard.history.record(domain.Order{
		UserID: "victim", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		PriceTicks: 1_000_000, AmountUnits: 10_000_000, CreatedAt: now.Add(-time.Second),
	})

	// 20 bps better than the victim's bid, over the 10 bps threshold.
	assert.True(t, f.guard.detectFrontRun(domain.Order{
		UserID: "racer", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, PriceTicks: 1_002_000, AmountUnits: 10_000_000, CreatedAt: now,
	}))

	// Same price is not front-running.
	assert.False(t, f.guard.detectFrontRun(domain.Order{
		UserID: "racer", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, PriceTicks: 1_000_000, AmountUnits: 10_000_000, CreatedAt: now,
	}))

	// Market orders carry no price to race with.
	assert.False(t, f.guard.detectFrontRun(domain.Order{
		UserID: "racer", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, AmountUnits: 10_000_000, CreatedAt: now,
	}))
}

func TestDetectBackRunBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackRunBurst = 3
	f := newGuardFixture(t, cfg)
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		f.guard.history.record(domain.Order{
			UserID: "burster", Pair: "IDX-USDC", Side: domain.OrderSideBuy,
			PriceTicks: 990_000, AmountUnits: 1_000_000,
			CreatedAt: now.Add(-time.Duration(i) * 100 * time.Millisecond),
		})
	}
	assert.True(t, f.guard.detectBackRunBurst(domain.Order{UserID: "burster", CreatedAt: now}))
	assert.False(t, f.guard.detectBackRunBurst(domain.Order{UserID: "someone-else", CreatedAt: now}))
}

func TestScreenBumpsRiskScore(t *testing.T) {
	cfg := zeroDelayConfig()
	cfg.HFLimit = 1
	f := newGuardFixture(t, cfg)

	// The first reveal passes; the second trips the high-frequency check.
	_, err := f.commitReveal(t, domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 1, Nonce: 1,
	})
	require.NoError(t, err)

	_, err = f.commitReveal(t, domain.OrderPayload{
		Pair: "IDX-USDC", Side: "buy", Type: "limit", Price: 0.99, Amount: 1, Nonce: 2,
	})
	require.ErrorIs(t, err, domain.ErrMEVDetected)

	score, err := f.risk.Score(context.Background(), f.signer.Address().Hex())
	require.NoError(t, err)
	assert.Equal(t, cfg.RiskScoreDelta, score)
}

func TestRevealRejectsMalformedPayload(t *testing.T) {
	f := newGuardFixture(t, zeroDelayConfig())

	_, err := f.commitReveal(t, domain.OrderPayload{
		Pair: "IDX-USDC", Side: "sideways", Type: "limit", Price: 0.99, Amount: 1, Nonce: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
