// Package service composes the execution core behind one facade the
// transport layer calls. The service owns cross-cutting concerns
// (rate limits, auditing) and delegates the actual execution decisions to
// the router, the commit-reveal guard, and the settlement queue.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/indexcore/internal/domain"
)

// Routing executes an order across the book and AMM venues.
type Routing interface {
	Route(ctx context.Context, o domain.Order) (domain.ExecutionReport, error)
}

// BookOps is the slice of the matching engine the service needs beyond
// routing: cancels and read paths.
type BookOps interface {
	Cancel(ctx context.Context, pair, orderID string) error
	Snapshot(pair string, depth int) domain.BookSnapshot
	GetOrder(pair, orderID string) (domain.Order, error)
}

// Protection is the commit-reveal front door for protected submissions.
type Protection interface {
	Commit(ctx context.Context, userID, payloadHash, signature string) (domain.CommitReceipt, error)
	Reveal(ctx context.Context, commitmentID string, payload []byte, signature string) (domain.RevealReceipt, error)
}

// SettlementStatus exposes settlement progress polling.
type SettlementStatus interface {
	GetStatus(ctx context.Context, id string) (domain.SettlementStatus, error)
}

// submitRateLimit bounds direct submissions per user per second. Protected
// (commit-reveal) submissions carry their own high-frequency screen.
const (
	submitRateLimit  = 10
	submitRateWindow = time.Second
)

// ExecutionService is the facade over the trade execution core.
type ExecutionService struct {
	router     Routing
	book       BookOps
	protection Protection
	settlement SettlementStatus
	orders     domain.OrderStore
	trades     domain.TradeStore
	limiter    domain.RateLimiter
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewExecutionService creates an ExecutionService with all dependencies.
func NewExecutionService(
	router Routing,
	book BookOps,
	protection Protection,
	settlement SettlementStatus,
	orders domain.OrderStore,
	trades domain.TradeStore,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		router:     router,
		book:       book,
		protection: protection,
		settlement: settlement,
		orders:     orders,
		trades:     trades,
		limiter:    limiter,
		audit:      audit,
		logger:     logger.With(slog.String("component", "execution_service")),
	}
}

// SubmitRequest is a direct (unprotected) order submission.
type SubmitRequest struct {
	UserID string
	Pair   string
	Side   domain.OrderSide
	Type   domain.OrderType
	Price  float64
	Amount float64
}

// Submit places an order directly, bypassing commit-reveal. The order is
// assigned a fresh id and routed immediately.
func (s *ExecutionService) Submit(ctx context.Context, req SubmitRequest) (domain.ExecutionReport, error) {
	if req.UserID == "" {
		return domain.ExecutionReport{}, fmt.Errorf("service: submit: %w", domain.ErrInvalidOrder)
	}

	allowed, err := s.limiter.Allow(ctx, "orders:"+req.UserID, submitRateLimit, submitRateWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable, admitting",
			slog.String("error", err.Error()),
		)
	} else if !allowed {
		return domain.ExecutionReport{}, fmt.Errorf("service: submit for %s: %w", req.UserID, domain.ErrRateLimited)
	}

	o := domain.Order{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Pair:        req.Pair,
		Side:        req.Side,
		Type:        req.Type,
		PriceTicks:  int64(req.Price * 1e6),
		AmountUnits: int64(req.Amount * 1e6),
		Status:      domain.OrderStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	o.RemainingUnits = o.AmountUnits

	report, err := s.router.Route(ctx, o)
	if err != nil {
		return domain.ExecutionReport{}, err
	}

	s.auditLog(ctx, req.UserID, "order.submit", o.ID, map[string]any{
		"pair":   o.Pair,
		"side":   string(o.Side),
		"type":   string(o.Type),
		"filled": report.FilledUnits,
	})
	return report, nil
}

// Cancel removes a resting order from the book.
func (s *ExecutionService) Cancel(ctx context.Context, userID, pair, orderID string) error {
	o, err := s.book.GetOrder(pair, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		// Do not leak order existence across users.
		return domain.ErrNotFound
	}

	if err := s.book.Cancel(ctx, pair, orderID); err != nil {
		return err
	}
	s.auditLog(ctx, userID, "order.cancel", orderID, map[string]any{"pair": pair})
	return nil
}

// Commit stores an order commitment for later reveal.
func (s *ExecutionService) Commit(ctx context.Context, userID, payloadHash, signature string) (domain.CommitReceipt, error) {
	receipt, err := s.protection.Commit(ctx, userID, payloadHash, signature)
	if err != nil {
		return domain.CommitReceipt{}, err
	}
	s.auditLog(ctx, userID, "order.commit", receipt.CommitmentID, nil)
	return receipt, nil
}

// Reveal discloses a committed order. A clean reveal enters the current
// batch auction window; the receipt carries the expected execution time.
func (s *ExecutionService) Reveal(ctx context.Context, commitmentID string, payload []byte, signature string) (domain.RevealReceipt, error) {
	receipt, err := s.protection.Reveal(ctx, commitmentID, payload, signature)
	if err != nil {
		return domain.RevealReceipt{}, err
	}
	s.auditLog(ctx, "", "order.reveal", commitmentID, map[string]any{
		"batch_id": receipt.BatchID,
	})
	return receipt, nil
}

// GetSettlementStatus returns the current state of a settlement request.
func (s *ExecutionService) GetSettlementStatus(ctx context.Context, id string) (domain.SettlementStatus, error) {
	return s.settlement.GetStatus(ctx, id)
}

// GetBookSnapshot returns the aggregated book for a pair.
func (s *ExecutionService) GetBookSnapshot(_ context.Context, pair string, depth int) domain.BookSnapshot {
	return s.book.Snapshot(pair, depth)
}

// GetOrder returns an order, preferring the live book over the durable
// store so remainders are current.
func (s *ExecutionService) GetOrder(ctx context.Context, pair, orderID string) (domain.Order, error) {
	if o, err := s.book.GetOrder(pair, orderID); err == nil {
		return o, nil
	}
	return s.orders.Get(ctx, orderID)
}

// ListUserOrders returns a user's order history from the durable store.
func (s *ExecutionService) ListUserOrders(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.orders.ListByUser(ctx, userID, opts)
}

// ListTrades returns a pair's recent trades.
func (s *ExecutionService) ListTrades(ctx context.Context, pair string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.trades.ListByPair(ctx, pair, opts)
}

// auditLog writes best-effort; an audit outage never fails the operation.
func (s *ExecutionService) auditLog(ctx context.Context, actor, action, subject string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, domain.AuditEntry{
		Actor:   actor,
		Action:  action,
		Subject: subject,
		Detail:  detail,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
