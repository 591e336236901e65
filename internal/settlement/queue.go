// Package settlement drains the priority lanes of queued on-chain swap
// requests and drives each one through the AMM swapper with bounded
// retries. One slow or failing settlement never blocks the rest of a lane;
// each worker claims exactly one request at a time.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tradeforge/indexcore/internal/domain"
)

// Notifier delivers operator alerts for terminal failures.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// Config tunes the settlement worker pool.
type Config struct {
	// Workers is the number of concurrent settlement executors.
	Workers int
	// PollInterval is the idle sleep between empty lane polls.
	PollInterval time.Duration
	// AttemptTimeout bounds a single swap attempt end to end.
	AttemptTimeout time.Duration
	// MaxRetries caps re-executions after the first attempt. Used when a
	// request carries no MaxRetries of its own.
	MaxRetries int
	// RetryBaseDelay seeds the exponential retry backoff.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps a single retry delay.
	RetryMaxDelay time.Duration
}

// DefaultConfig returns the settlement defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollInterval:   250 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  30 * time.Second,
	}
}

// Queue accepts settlement requests, executes them through the swapper in
// priority order, and records terminal outcomes durably.
type Queue struct {
	cfg      Config
	lanes    domain.SettlementLanes
	swapper  domain.Swapper
	store    domain.SettlementStore
	notifier Notifier // may be nil
	logger   *slog.Logger

	// sleep exists so tests can collapse retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue creates a Queue. store may be nil when durable outcomes are not
// wanted; notifier may be nil.
func NewQueue(cfg Config, lanes domain.SettlementLanes, swapper domain.Swapper, store domain.SettlementStore, notifier Notifier, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Queue{
		cfg:      cfg,
		lanes:    lanes,
		swapper:  swapper,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "settlement_queue")),
		sleep:    sleepCtx,
	}
}

// Submit validates and enqueues a request into its priority lane. The
// request becomes visible to GetStatus immediately as pending.
func (q *Queue) Submit(ctx context.Context, req domain.SettlementRequest) error {
	if req.ID == "" || req.Pair == "" || req.AmountUnits <= 0 {
		return fmt.Errorf("settlement: submit %q: %w", req.ID, domain.ErrInvalidOrder)
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = q.cfg.MaxRetries
	}
	req.Status = domain.SettlementPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	if q.store != nil {
		if err := q.store.Create(ctx, req); err != nil {
			return fmt.Errorf("settlement: persist %s: %w", req.ID, err)
		}
	}
	if err := q.lanes.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("settlement: enqueue %s: %w", req.ID, err)
	}
	q.setStatus(ctx, req, "")

	q.logger.InfoContext(ctx, "settlement queued",
		slog.String("settlement_id", req.ID),
		slog.String("order_id", req.OrderID),
		slog.String("priority", string(req.Priority)),
	)
	return nil
}

// Enqueue is the hand-off the liquidity router uses; it delegates to Submit.
func (q *Queue) Enqueue(ctx context.Context, req domain.SettlementRequest) error {
	return q.Submit(ctx, req)
}

// Run drives the worker pool until the context is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error { return q.worker(ctx) })
	}
	return g.Wait()
}

// worker is one pop-execute loop. Execution errors terminate only the
// request, never the worker.
func (q *Queue) worker(ctx context.Context) error {
	for {
		req, err := q.lanes.PopHighest(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case errors.Is(err, domain.ErrNotFound):
			if err := q.sleep(ctx, q.cfg.PollInterval); err != nil {
				return err
			}
			continue
		case err != nil:
			q.logger.WarnContext(ctx, "lane pop failed",
				slog.String("error", err.Error()),
			)
			if err := q.sleep(ctx, q.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		q.process(ctx, req)
	}
}

// process runs one attempt. A failure either re-enqueues the request into
// the high lane after an exponential delay or, once the retry budget is
// spent, lands it in the failed state. The worker is released either way.
func (q *Queue) process(ctx context.Context, req domain.SettlementRequest) {
	req.Status = domain.SettlementProcessing
	q.setStatus(ctx, req, "")

	res, err := q.attempt(ctx, req)
	if err == nil {
		q.complete(ctx, req, res)
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-request: put it back on its lane so the next run
		// picks it up.
		q.requeue(req, err)
		return
	}

	q.logger.WarnContext(ctx, "settlement attempt failed",
		slog.String("settlement_id", req.ID),
		slog.Int("retries_used", req.RetryCount),
		slog.String("error", err.Error()),
	)
	if req.RetryCount >= req.MaxRetries {
		q.fail(ctx, req, err)
		return
	}
	req.RetryCount++
	q.scheduleRetry(ctx, req, err)
}

// scheduleRetry puts the request back on the high lane after a backoff
// delay. Retried work jumps the normal and low lanes so a transient chain
// hiccup clears quickly once it passes.
func (q *Queue) scheduleRetry(ctx context.Context, req domain.SettlementRequest, cause error) {
	req.Status = domain.SettlementPending
	req.Priority = domain.PriorityHigh
	q.setStatus(ctx, req, cause.Error())

	delay := q.retryDelay(req.RetryCount)
	go func() {
		if err := q.sleep(ctx, delay); err != nil {
			// Shutdown during the backoff: skip the rest of the delay and
			// hand the request back to its lane now.
			q.requeue(req, cause)
			return
		}
		if err := q.lanes.Enqueue(ctx, req); err != nil {
			if ctx.Err() != nil {
				q.requeue(req, cause)
				return
			}
			q.logger.ErrorContext(ctx, "retry re-enqueue failed",
				slog.String("settlement_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// requeueTimeout bounds the lane hand-back during shutdown.
const requeueTimeout = 5 * time.Second

// requeue puts an interrupted request back on its lane under a fresh
// context so the cancelled worker context cannot drop it.
func (q *Queue) requeue(req domain.SettlementRequest, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	req.Status = domain.SettlementPending
	if err := q.lanes.Enqueue(ctx, req); err != nil {
		q.logger.ErrorContext(ctx, "shutdown re-enqueue failed",
			slog.String("settlement_id", req.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	q.setStatus(ctx, req, cause.Error())
}

// attempt executes one bounded swap try.
func (q *Queue) attempt(ctx context.Context, req domain.SettlementRequest) (domain.SwapResult, error) {
	actx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
	defer cancel()
	return q.swapper.ExecuteSwap(actx, req.Pair, req.Side, req.AmountUnits, domain.SwapOpts{
		LimitTicks: req.LimitTicks,
		Deadline:   q.cfg.AttemptTimeout,
	})
}

func (q *Queue) complete(ctx context.Context, req domain.SettlementRequest, res domain.SwapResult) {
	now := time.Now().UTC()
	req.Status = domain.SettlementCompleted
	req.TxHash = res.TxHash
	req.BlockNumber = res.BlockNumber
	req.GasUsed = res.GasUsed
	req.Error = ""
	req.CompletedAt = &now

	q.persistTerminal(ctx, req)
	q.setStatus(ctx, req, "")

	q.logger.InfoContext(ctx, "settlement completed",
		slog.String("settlement_id", req.ID),
		slog.String("tx_hash", res.TxHash),
		slog.Uint64("block", res.BlockNumber),
		slog.Int("retries", req.RetryCount),
	)
}

func (q *Queue) fail(ctx context.Context, req domain.SettlementRequest, cause error) {
	now := time.Now().UTC()
	req.Status = domain.SettlementFailed
	req.Error = cause.Error()
	req.CompletedAt = &now

	q.persistTerminal(ctx, req)
	q.setStatus(ctx, req, req.Error)

	q.logger.ErrorContext(ctx, "settlement failed terminally",
		slog.String("settlement_id", req.ID),
		slog.String("order_id", req.OrderID),
		slog.Int("retries", req.RetryCount),
		slog.String("error", req.Error),
	)
	if q.notifier != nil {
		msg := fmt.Sprintf("settlement %s (order %s) failed after %d retries: %s",
			req.ID, req.OrderID, req.RetryCount, req.Error)
		if nerr := q.notifier.Notify(ctx, "settlement failure", msg); nerr != nil {
			q.logger.WarnContext(ctx, "failure alert not delivered",
				slog.String("error", nerr.Error()),
			)
		}
	}
}

// GetStatus reads the shared-store status, falling back to the durable
// record for requests that aged out of the cache.
func (q *Queue) GetStatus(ctx context.Context, id string) (domain.SettlementStatus, error) {
	st, err := q.lanes.GetStatus(ctx, id)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || q.store == nil {
		return domain.SettlementStatus{}, err
	}

	req, err := q.store.Get(ctx, id)
	if err != nil {
		return domain.SettlementStatus{}, err
	}
	updated := req.CreatedAt
	if req.CompletedAt != nil {
		updated = *req.CompletedAt
	}
	return domain.SettlementStatus{
		ID:          req.ID,
		Status:      req.Status,
		TxHash:      req.TxHash,
		BlockNumber: req.BlockNumber,
		GasUsed:     req.GasUsed,
		RetryCount:  req.RetryCount,
		Error:       req.Error,
		UpdatedAt:   updated,
	}, nil
}

// setStatus mirrors the request's current state into the shared store.
// Status visibility is best-effort; execution never depends on it.
func (q *Queue) setStatus(ctx context.Context, req domain.SettlementRequest, errMsg string) {
	st := domain.SettlementStatus{
		ID:          req.ID,
		Status:      req.Status,
		TxHash:      req.TxHash,
		BlockNumber: req.BlockNumber,
		GasUsed:     req.GasUsed,
		RetryCount:  req.RetryCount,
		Error:       errMsg,
		UpdatedAt:   time.Now().UTC(),
	}
	if req.Error != "" {
		st.Error = req.Error
	}
	if err := q.lanes.SetStatus(ctx, st); err != nil && ctx.Err() == nil {
		q.logger.WarnContext(ctx, "status write failed",
			slog.String("settlement_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// persistTerminal records the terminal row durably. A store outage logs and
// moves on; the shared-store status remains the source for pollers.
func (q *Queue) persistTerminal(ctx context.Context, req domain.SettlementRequest) {
	if q.store == nil {
		return
	}
	if err := q.store.Update(ctx, req); err != nil {
		q.logger.ErrorContext(ctx, "terminal persist failed",
			slog.String("settlement_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// retryDelay is the exponential backoff interval before the nth retry.
func (q *Queue) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryBaseDelay
	b.MaxInterval = q.cfg.RetryMaxDelay
	b.MaxElapsedTime = 0 // retries are counted, not timed
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
