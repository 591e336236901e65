package book

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeforge/indexcore/internal/domain"
)

// Persister batches book mutations and flushes them to the durable store in
// one transaction per batch, instead of one round-trip per order.
type Persister struct {
	store    domain.MutationStore
	interval time.Duration
	maxBatch int
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.BookMutation
	kick    chan struct{}
}

// NewPersister creates a write-behind persister. interval is the maximum
// time a mutation waits before flushing; maxBatch triggers an early flush.
func NewPersister(store domain.MutationStore, interval time.Duration, maxBatch int, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if maxBatch <= 0 {
		maxBatch = 256
	}
	return &Persister{
		store:    store,
		interval: interval,
		maxBatch: maxBatch,
		logger:   logger.With(slog.String("component", "book_persister")),
		kick:     make(chan struct{}, 1),
	}
}

// Enqueue buffers a mutation. It never blocks the matching path.
func (p *Persister) Enqueue(m domain.BookMutation) {
	p.mu.Lock()
	p.pending = append(p.pending, m)
	full := len(p.pending) >= p.maxBatch
	p.mu.Unlock()

	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on a ticker and whenever the batch-size threshold is reached.
// A final flush runs on shutdown with a short detached deadline.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.kick:
			p.Flush(ctx)
		}
	}
}

// Flush writes all buffered mutations. On error the batch is requeued at
// the front so ordering is preserved; the durable trail is eventually
// consistent with the in-memory book.
func (p *Persister) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := p.store.FlushMutations(ctx, batch); err != nil {
		p.logger.WarnContext(ctx, "mutation flush failed, requeueing",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		p.mu.Lock()
		p.pending = append(batch, p.pending...)
		p.mu.Unlock()
	}
}
