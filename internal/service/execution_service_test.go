package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/indexcore/internal/domain"
)

type fakeRouter struct {
	mu     sync.Mutex
	routed []domain.Order
	err    error
}

func (r *fakeRouter) Route(_ context.Context, o domain.Order) (domain.ExecutionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.ExecutionReport{}, r.err
	}
	r.routed = append(r.routed, o)
	return domain.ExecutionReport{OrderID: o.ID, FilledUnits: o.AmountUnits, Status: domain.OrderStatusFilled}, nil
}

type fakeBook struct {
	orders    map[string]domain.Order
	cancelled []string
}

func newFakeBook() *fakeBook { return &fakeBook{orders: make(map[string]domain.Order)} }

func (b *fakeBook) Cancel(_ context.Context, _, orderID string) error {
	if _, ok := b.orders[orderID]; !ok {
		return domain.ErrNotFound
	}
	b.cancelled = append(b.cancelled, orderID)
	delete(b.orders, orderID)
	return nil
}

func (b *fakeBook) Snapshot(pair string, _ int) domain.BookSnapshot {
	return domain.BookSnapshot{Pair: pair, Timestamp: time.Now().UTC()}
}

func (b *fakeBook) GetOrder(_, orderID string) (domain.Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

type openLimiter struct{ allow bool }

func (l openLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type nopAudit struct{ entries []domain.AuditEntry }

func (a *nopAudit) Append(_ context.Context, e domain.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *nopAudit) ListByActor(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newService(t *testing.T, router *fakeRouter, book *fakeBook, allow bool) (*ExecutionService, *nopAudit) {
	t.Helper()
	audit := &nopAudit{}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	svc := NewExecutionService(router, book, nil, nil, nil, nil, openLimiter{allow}, audit, logger)
	return svc, audit
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSubmitRoutesAndAudits(t *testing.T) {
	router := &fakeRouter{}
	svc, audit := newService(t, router, newFakeBook(), true)

	report, err := svc.Submit(context.Background(), SubmitRequest{
		UserID: "alice", Pair: "IDX-USDC",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Price: 0.99, Amount: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.OrderID)

	require.Len(t, router.routed, 1)
	o := router.routed[0]
	assert.Equal(t, int64(990_000), o.PriceTicks)
	assert.Equal(t, int64(10_000_000), o.AmountUnits)
	assert.Equal(t, o.AmountUnits, o.RemainingUnits)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "order.submit", audit.entries[0].Action)
}

func TestSubmitRateLimited(t *testing.T) {
	svc, _ := newService(t, &fakeRouter{}, newFakeBook(), false)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		UserID: "alice", Pair: "IDX-USDC",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancelChecksOwnership(t *testing.T) {
	book := newFakeBook()
	book.orders["o1"] = domain.Order{ID: "o1", UserID: "alice", Pair: "IDX-USDC"}
	svc, _ := newService(t, &fakeRouter{}, book, true)

	// Another user's cancel reads as not-found, not as forbidden.
	err := svc.Cancel(context.Background(), "mallory", "IDX-USDC", "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, book.cancelled)

	require.NoError(t, svc.Cancel(context.Background(), "alice", "IDX-USDC", "o1"))
	assert.Equal(t, []string{"o1"}, book.cancelled)
}
