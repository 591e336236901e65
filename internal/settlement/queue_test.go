package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

// memLanes is an in-process SettlementLanes for tests.
type memLanes struct {
	mu       sync.Mutex
	queues   map[domain.SettlementPriority][]domain.SettlementRequest
	statuses map[string]domain.SettlementStatus
	enqueued []domain.SettlementRequest // every Enqueue call, in order
}

func newMemLanes() *memLanes {
	return &memLanes{
		queues:   make(map[domain.SettlementPriority][]domain.SettlementRequest),
		statuses: make(map[string]domain.SettlementStatus),
	}
}

func (l *memLanes) Enqueue(_ context.Context, req domain.SettlementRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queues[req.Priority] = append(l.queues[req.Priority], req)
	l.enqueued = append(l.enqueued, req)
	return nil
}

func (l *memLanes) PopHighest(ctx context.Context) (domain.SettlementRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.SettlementRequest{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range domain.Lanes {
		if q := l.queues[p]; len(q) > 0 {
			req := q[0]
			l.queues[p] = q[1:]
			return req, nil
		}
	}
	return domain.SettlementRequest{}, domain.ErrNotFound
}

func (l *memLanes) SetStatus(_ context.Context, st domain.SettlementStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[st.ID] = st
	return nil
}

func (l *memLanes) GetStatus(_ context.Context, id string) (domain.SettlementStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.statuses[id]
	if !ok {
		return domain.SettlementStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func (l *memLanes) status(id string) domain.SettlementStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[id]
}

func (l *memLanes) highLaneEnqueues() []domain.SettlementRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SettlementRequest
	for _, r := range l.enqueued {
		if r.Priority == domain.PriorityHigh {
			out = append(out, r)
		}
	}
	return out
}

// scriptedSwapper fails the first failures[id] attempts per request.
type scriptedSwapper struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures keyed by pair
	attempts map[string]int
}

func newScriptedSwapper() *scriptedSwapper {
	return &scriptedSwapper{failures: make(map[string]int), attempts: make(map[string]int)}
}

func (s *scriptedSwapper) failFirst(pair string, n int) { s.failures[pair] = n }

func (s *scriptedSwapper) ExecuteSwap(_ context.Context, pair string, _ domain.OrderSide, amountUnits int64, _ domain.SwapOpts) (domain.SwapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[pair]++
	if s.failures[pair] > 0 {
		s.failures[pair]--
		return domain.SwapResult{}, errors.New("rpc: execution reverted")
	}
	return domain.SwapResult{
		TxHash:      "0xabc",
		BlockNumber: 42,
		GasUsed:     21_000,
		OutUnits:    amountUnits,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

func (s *scriptedSwapper) attemptCount(pair string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[pair]
}

type memStore struct {
	mu sync.Mutex
	m  map[string]domain.SettlementRequest
}

func newMemStore() *memStore { return &memStore{m: make(map[string]domain.SettlementRequest)} }

func (s *memStore) Create(_ context.Context, req domain.SettlementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[req.ID] = req
	return nil
}

func (s *memStore) Update(_ context.Context, req domain.SettlementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[req.ID] = req
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (domain.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.m[id]
	if !ok {
		return domain.SettlementRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *memStore) ListTerminalBefore(_ context.Context, before time.Time) ([]domain.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementRequest
	for _, req := range s.m {
		terminal := req.Status == domain.SettlementCompleted || req.Status == domain.SettlementFailed
		if terminal && req.CompletedAt != nil && req.CompletedAt.Before(before) {
			out = append(out, req)
		}
	}
	return out, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *captureNotifier) Notify(_ context.Context, _ string, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fixture struct {
	queue    *Queue
	lanes    *memLanes
	swapper  *scriptedSwapper
	store    *memStore
	notifier *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxRetries = 3

	lanes := newMemLanes()
	swapper := newScriptedSwapper()
	store := newMemStore()
	notifier := &captureNotifier{}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	q := NewQueue(cfg, lanes, swapper, store, notifier, logger)
	// Collapse retry delays so tests run in milliseconds.
	q.sleep = func(ctx context.Context, _ time.Duration) error {
		return sleepCtx(ctx, time.Millisecond)
	}
	return &fixture{queue: q, lanes: lanes, swapper: swapper, store: store, notifier: notifier}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func request(id, pair string, prio domain.SettlementPriority) domain.SettlementRequest {
	return domain.SettlementRequest{
		ID:          id,
		OrderID:     "order-" + id,
		Pair:        pair,
		Side:        domain.OrderSideBuy,
		AmountUnits: 5_000_000,
		Priority:    prio,
	}
}

// runUntil drives the pool until cond holds or the deadline passes.
func (f *fixture) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.queue.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	err := f.queue.Submit(context.Background(), domain.SettlementRequest{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestSubmitDefaultsAndPendingStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Submit(context.Background(), request("s1", "IDX-USDC", "")))

	st, err := f.queue.GetStatus(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPending, st.Status)

	stored, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, stored.Priority)
	assert.Equal(t, 3, stored.MaxRetries)
}

func TestSettlementCompletes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Submit(context.Background(), request("s1", "IDX-USDC", domain.PriorityNormal)))

	f.runUntil(t, func() bool {
		return f.lanes.status("s1").Status == domain.SettlementCompleted
	})

	st := f.lanes.status("s1")
	assert.Equal(t, "0xabc", st.TxHash)
	assert.Equal(t, uint64(42), st.BlockNumber)
	assert.Zero(t, st.RetryCount)

	stored, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestTransientFailureRetriesOnHighLane(t *testing.T) {
	f := newFixture(t)
	f.swapper.failFirst("IDX-USDC", 2)
	require.NoError(t, f.queue.Submit(context.Background(), request("s1", "IDX-USDC", domain.PriorityLow)))

	f.runUntil(t, func() bool {
		return f.lanes.status("s1").Status == domain.SettlementCompleted
	})

	assert.Equal(t, 3, f.swapper.attemptCount("IDX-USDC"))
	assert.Equal(t, 2, f.lanes.status("s1").RetryCount)

	// Both retries re-entered through the high lane.
	high := f.lanes.highLaneEnqueues()
	require.Len(t, high, 2)
	assert.Equal(t, "s1", high[0].ID)
}

func TestExhaustedRetriesFailTerminally(t *testing.T) {
	f := newFixture(t)
	f.swapper.failFirst("IDX-USDC", 100)
	require.NoError(t, f.queue.Submit(context.Background(), request("s1", "IDX-USDC", domain.PriorityNormal)))

	f.runUntil(t, func() bool {
		return f.lanes.status("s1").Status == domain.SettlementFailed
	})

	// First attempt plus MaxRetries re-executions.
	assert.Equal(t, 4, f.swapper.attemptCount("IDX-USDC"))

	st := f.lanes.status("s1")
	assert.Equal(t, 3, st.RetryCount)
	assert.Contains(t, st.Error, "execution reverted")

	stored, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, stored.Status)
	assert.Equal(t, 1, f.notifier.count())
}

func TestFailureDoesNotBlockOtherRequests(t *testing.T) {
	f := newFixture(t)
	f.swapper.failFirst("BAD-USDC", 100)
	require.NoError(t, f.queue.Submit(context.Background(), request("bad", "BAD-USDC", domain.PriorityUrgent)))
	require.NoError(t, f.queue.Submit(context.Background(), request("good", "IDX-USDC", domain.PriorityLow)))

	f.runUntil(t, func() bool {
		return f.lanes.status("good").Status == domain.SettlementCompleted &&
			f.lanes.status("bad").Status == domain.SettlementFailed
	})
}

func TestPriorityOrderingAcrossLanes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.queue.Submit(ctx, request("low", "A-USDC", domain.PriorityLow)))
	require.NoError(t, f.queue.Submit(ctx, request("urgent", "B-USDC", domain.PriorityUrgent)))

	first, err := f.lanes.PopHighest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "urgent", first.ID)
	second, err := f.lanes.PopHighest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", second.ID)
}

// holdingSwapper signals the first attempt and then blocks until the
// attempt context is cancelled.
type holdingSwapper struct {
	started chan string
}

func (s *holdingSwapper) ExecuteSwap(ctx context.Context, pair string, _ domain.OrderSide, _ int64, _ domain.SwapOpts) (domain.SwapResult, error) {
	select {
	case s.started <- pair:
	default:
	}
	<-ctx.Done()
	return domain.SwapResult{}, ctx.Err()
}

func TestShutdownRequeuesInFlightRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.PollInterval = 5 * time.Millisecond

	lanes := newMemLanes()
	swapper := &holdingSwapper{started: make(chan string, 1)}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	q := NewQueue(cfg, lanes, swapper, newMemStore(), nil, logger)

	require.NoError(t, q.Submit(context.Background(), request("s1", "IDX-USDC", domain.PriorityNormal)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	<-swapper.started
	cancel()
	<-done

	// The interrupted request went back to its lane, not into limbo.
	req, err := lanes.PopHighest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", req.ID)
	assert.Equal(t, domain.SettlementPending, lanes.status("s1").Status)
}

func TestShutdownDuringRetryBackoffHandsBackToLane(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := request("s1", "IDX-USDC", domain.PriorityNormal)
	req.RetryCount = 1
	req.MaxRetries = 3
	f.queue.scheduleRetry(ctx, req, errors.New("rpc: execution reverted"))

	require.Eventually(t, func() bool {
		r, err := f.lanes.PopHighest(context.Background())
		return err == nil && r.ID == "s1"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.SettlementPending, f.lanes.status("s1").Status)
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.store.Create(context.Background(), domain.SettlementRequest{
		ID:          "aged",
		Pair:        "IDX-USDC",
		AmountUnits: 1,
		Status:      domain.SettlementCompleted,
		TxHash:      "0xdef",
		CompletedAt: &now,
	}))

	st, err := f.queue.GetStatus(context.Background(), "aged")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCompleted, st.Status)
	assert.Equal(t, "0xdef", st.TxHash)
}
