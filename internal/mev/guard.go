// Package mev protects users from adversarial transaction ordering. Order
// submission is wrapped in a commit-reveal protocol; revealed orders are
// screened against known extraction patterns and cleared in fixed-window
// batch auctions at a uniform price, which removes the intra-batch
// front-running incentive.
package mev

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tradeforge/indexcore/internal/crypto"
	"github.com/tradeforge/indexcore/internal/domain"
)

// Config tunes the commit-reveal protocol and the pattern detectors.
type Config struct {
	// CommitRevealDelay is the minimum time between commit and reveal.
	CommitRevealDelay time.Duration
	// CommitmentTTL expires commitments that are never revealed.
	CommitmentTTL time.Duration
	// SandwichWindow bounds how far apart the two bracketing orders of a
	// sandwich may be.
	SandwichWindow time.Duration
	// SandwichSizeTolBps is the size tolerance for "near-equal" brackets.
	SandwichSizeTolBps int64
	// FrontRunWindow is the lookback for front-run detection.
	FrontRunWindow time.Duration
	// FrontRunEdgeBps is how much better a price must be to count as
	// "materially better".
	FrontRunEdgeBps int64
	// BackRunBurst is the order count within BackRunWindow that flags a
	// burst.
	BackRunBurst int
	// BackRunWindow is the burst measurement window.
	BackRunWindow time.Duration
	// HFLimit is the max reveals per user per rolling minute.
	HFLimit int
	// RiskScoreDelta is added to a user's risk score per detection.
	RiskScoreDelta int64
	// VerifyWorkers bounds concurrent signature verification.
	VerifyWorkers int64
}

// DefaultConfig returns the protection defaults.
func DefaultConfig() Config {
	return Config{
		CommitRevealDelay:  2 * time.Second,
		CommitmentTTL:      5 * time.Minute,
		SandwichWindow:     10 * time.Second,
		SandwichSizeTolBps: 1_000, // 10%
		FrontRunWindow:     3 * time.Second,
		FrontRunEdgeBps:    10,
		BackRunBurst:       5,
		BackRunWindow:      time.Second,
		HFLimit:            60,
		RiskScoreDelta:     10,
		VerifyWorkers:      8,
	}
}

// Guard implements the commit-reveal gate in front of the batch auctions.
type Guard struct {
	cfg         Config
	commitments domain.CommitmentStore
	risk        domain.RiskLedger
	limiter     domain.RateLimiter
	history     *history
	batches     *BatchEngine
	verifySem   *semaphore.Weighted
	logger      *slog.Logger
}

// NewGuard creates a Guard. The limiter backs the high-frequency detector;
// the risk ledger accumulates per-user scores across detections.
func NewGuard(cfg Config, commitments domain.CommitmentStore, risk domain.RiskLedger, limiter domain.RateLimiter, batches *BatchEngine, logger *slog.Logger) *Guard {
	workers := cfg.VerifyWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Guard{
		cfg:         cfg,
		commitments: commitments,
		risk:        risk,
		limiter:     limiter,
		history:     newHistory(),
		batches:     batches,
		verifySem:   semaphore.NewWeighted(workers),
		logger:      logger.With(slog.String("component", "mev_guard")),
	}
}

// Commit stores the payload hash under a fresh commitment id. The order
// content stays hidden until reveal.
func (g *Guard) Commit(ctx context.Context, userID, payloadHash, signature string) (domain.CommitReceipt, error) {
	if userID == "" || signature == "" {
		return domain.CommitReceipt{}, domain.ErrInvalidOrder
	}
	if !strings.HasPrefix(payloadHash, "0x") || len(payloadHash) != 66 {
		return domain.CommitReceipt{}, fmt.Errorf("mev: malformed payload hash: %w", domain.ErrInvalidOrder)
	}

	c := domain.Commitment{
		ID:          uuid.New().String(),
		UserID:      userID,
		PayloadHash: strings.ToLower(payloadHash),
		CreatedAt:   time.Now().UTC(),
	}

	if err := g.commitments.Put(ctx, c, g.cfg.CommitmentTTL); err != nil {
		return domain.CommitReceipt{}, fmt.Errorf("mev: store commitment: %w", err)
	}

	g.logger.InfoContext(ctx, "commitment stored",
		slog.String("commitment_id", c.ID),
		slog.String("user_id", userID),
	)

	return domain.CommitReceipt{
		CommitmentID: c.ID,
		RevealAfter:  c.CreatedAt.Add(g.cfg.CommitRevealDelay),
	}, nil
}

// Reveal checks the commitment gates in order: existence, delay, hash
// match, signature, then the MEV pattern detectors. A clean reveal appends
// the order to the current batch window for its pair.
func (g *Guard) Reveal(ctx context.Context, commitmentID string, payloadBytes []byte, signature string) (domain.RevealReceipt, error) {
	c, err := g.commitments.Get(ctx, commitmentID)
	if err != nil {
		return domain.RevealReceipt{}, fmt.Errorf("mev: commitment %s: %w", commitmentID, domain.ErrRevealExpired)
	}

	if time.Now().Before(c.CreatedAt.Add(g.cfg.CommitRevealDelay)) {
		return domain.RevealReceipt{}, fmt.Errorf("mev: commitment %s: %w", commitmentID, domain.ErrRevealTooEarly)
	}

	computed, err := crypto.PayloadHash(payloadBytes, signature)
	if err != nil {
		return domain.RevealReceipt{}, fmt.Errorf("mev: hash payload: %w", domain.ErrInvalidOrder)
	}
	if computed != c.PayloadHash {
		return domain.RevealReceipt{}, fmt.Errorf("mev: commitment %s: %w", commitmentID, domain.ErrCommitmentMismatch)
	}

	if err := g.verifySignature(ctx, payloadBytes, signature, c.UserID); err != nil {
		return domain.RevealReceipt{}, err
	}

	var payload domain.OrderPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return domain.RevealReceipt{}, fmt.Errorf("mev: decode payload: %w", domain.ErrInvalidOrder)
	}
	order, err := orderFromPayload(c.UserID, payload)
	if err != nil {
		return domain.RevealReceipt{}, err
	}

	// Claim the commitment exactly once. A concurrent duplicate reveal
	// loses here, after the cheap gates but before admission.
	if _, err := g.commitments.TakeForReveal(ctx, commitmentID); err != nil {
		return domain.RevealReceipt{}, fmt.Errorf("mev: commitment %s: %w", commitmentID, domain.ErrRevealExpired)
	}

	if err := g.screen(ctx, order); err != nil {
		return domain.RevealReceipt{}, err
	}

	g.history.record(order)

	receipt, err := g.batches.Assign(ctx, order)
	if err != nil {
		return domain.RevealReceipt{}, err
	}

	g.logger.InfoContext(ctx, "order revealed into batch",
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
		slog.String("batch_id", receipt.BatchID),
	)
	return receipt, nil
}

// verifySignature recovers the payload signer under a bounded worker pool
// so verification CPU work cannot starve the reveal path.
func (g *Guard) verifySignature(ctx context.Context, payload []byte, signature, userID string) error {
	if err := g.verifySem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("mev: acquire verify slot: %w", err)
	}
	defer g.verifySem.Release(1)

	if err := crypto.VerifyPayloadSignature(payload, signature, userID); err != nil {
		return fmt.Errorf("mev: %s: %w", err.Error(), domain.ErrInvalidSignature)
	}
	return nil
}

// screen runs every pattern detector; the first match rejects the order and
// bumps the user's risk score.
func (g *Guard) screen(ctx context.Context, o domain.Order) error {
	pattern := ""
	switch {
	case g.detectSandwich(o):
		pattern = "sandwich"
	case g.detectFrontRun(o):
		pattern = "front_run"
	case g.detectBackRunBurst(o):
		pattern = "back_run_burst"
	default:
		if hf, err := g.detectHighFrequency(ctx, o); err != nil {
			g.logger.WarnContext(ctx, "hf detector unavailable, admitting",
				slog.String("error", err.Error()),
			)
		} else if hf {
			pattern = "high_frequency"
		}
	}
	if pattern == "" {
		return nil
	}

	score, err := g.risk.AddScore(ctx, o.UserID, g.cfg.RiskScoreDelta)
	if err != nil {
		g.logger.WarnContext(ctx, "risk score update failed",
			slog.String("user_id", o.UserID),
			slog.String("error", err.Error()),
		)
	}
	g.logger.WarnContext(ctx, "mev pattern detected, order rejected",
		slog.String("user_id", o.UserID),
		slog.String("order_id", o.ID),
		slog.String("pattern", pattern),
		slog.Int64("risk_score", score),
	)
	return fmt.Errorf("mev: %s pattern: %w", pattern, domain.ErrMEVDetected)
}

// orderFromPayload builds and validates the order a payload describes.
func orderFromPayload(userID string, p domain.OrderPayload) (domain.Order, error) {
	side := domain.OrderSide(p.Side)
	typ := domain.OrderType(p.Type)
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return domain.Order{}, domain.ErrInvalidOrder
	}
	if typ != domain.OrderTypeLimit && typ != domain.OrderTypeMarket {
		return domain.Order{}, domain.ErrInvalidOrder
	}
	if p.Pair == "" || p.Amount <= 0 {
		return domain.Order{}, domain.ErrInvalidOrder
	}
	if typ == domain.OrderTypeLimit && p.Price <= 0 {
		return domain.Order{}, domain.ErrInvalidOrder
	}

	o := domain.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		Pair:        p.Pair,
		Side:        side,
		Type:        typ,
		PriceTicks:  int64(p.Price * 1e6),
		AmountUnits: int64(p.Amount * 1e6),
		Status:      domain.OrderStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	o.RemainingUnits = o.AmountUnits
	return o, nil
}
