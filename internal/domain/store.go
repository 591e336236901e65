package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// BookMutation carries everything one match cycle changed. The in-memory
// book is authoritative; mutations are flushed write-behind and batched.
type BookMutation struct {
	NewOrders []Order
	Trades    []Trade // order remainders are derived from these server-side
	Cancels   []string
}

// MutationStore persists a batch of book mutations in one transaction.
type MutationStore interface {
	FlushMutations(ctx context.Context, ms []BookMutation) error
}

// OrderStore reads the durable order audit trail.
type OrderStore interface {
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// TradeStore reads executed trades.
type TradeStore interface {
	ListByPair(ctx context.Context, pair string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// SettlementStore persists settlement requests and their terminal outcomes.
type SettlementStore interface {
	Create(ctx context.Context, req SettlementRequest) error
	Update(ctx context.Context, req SettlementRequest) error
	Get(ctx context.Context, id string) (SettlementRequest, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]SettlementRequest, error)
}

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Subject   string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListByActor(ctx context.Context, actor string, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter writes immutable objects to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader reads objects back from cold storage.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver moves aged records from the primary stores into cold storage.
type Archiver interface {
	Archive(ctx context.Context, before time.Time) (ArchiveReport, error)
}

// ArchiveReport summarises one archival run.
type ArchiveReport struct {
	Trades      int
	Orders      int
	Settlements int
	Batches     int
	Keys        []string
}
