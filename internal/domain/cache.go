package domain

import (
	"context"
	"time"
)

// BookMirror mirrors matched book state into the shared low-latency store so
// other processes can read depth without touching the matching engine. The
// mirror holds no business logic; it only offers narrow atomic primitives.
type BookMirror interface {
	// ApplyLevels atomically replaces the given price levels for a pair.
	// A level with AmountUnits == 0 is removed.
	ApplyLevels(ctx context.Context, pair string, bids, asks []PriceLevel) error
	// SetBest publishes the best bid/ask for cheap crossed-book checks.
	SetBest(ctx context.Context, pair string, bidTicks, askTicks int64) error
	// ReadSnapshot rebuilds a depth-limited snapshot from the mirror.
	ReadSnapshot(ctx context.Context, pair string, depth int) (BookSnapshot, error)
}

// CommitmentStore holds unrevealed commitments with a TTL. Reveal must be
// atomic: exactly one concurrent reveal of the same commitment can win.
type CommitmentStore interface {
	// Put stores a fresh commitment. Returns ErrDuplicateCommitment if the
	// id is already present.
	Put(ctx context.Context, c Commitment, ttl time.Duration) error
	// Get loads a commitment without consuming it.
	Get(ctx context.Context, id string) (Commitment, error)
	// TakeForReveal atomically loads and marks the commitment revealed.
	// Returns ErrRevealExpired if it is gone or already revealed.
	TakeForReveal(ctx context.Context, id string) (Commitment, error)
}

// SettlementLanes is the multi-lane producer/consumer queue backing the
// settlement pipeline. Enqueue is non-blocking.
type SettlementLanes interface {
	Enqueue(ctx context.Context, req SettlementRequest) error
	// PopHighest pops one request from the highest non-empty lane, or
	// returns ErrNotFound when every lane is empty.
	PopHighest(ctx context.Context) (SettlementRequest, error)
	SetStatus(ctx context.Context, st SettlementStatus) error
	GetStatus(ctx context.Context, id string) (SettlementStatus, error)
}

// RateLimiter provides distributed sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking for pair ownership across
// processes. Within one process the book engine serializes per pair.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RiskLedger accumulates per-user risk scores raised by the MEV detectors.
type RiskLedger interface {
	AddScore(ctx context.Context, userID string, delta int64) (int64, error)
	Score(ctx context.Context, userID string) (int64, error)
}

// SignalBus provides pub/sub used to fan out trades and snapshots to the
// websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, error)
}

// BusMessage is a single pub/sub delivery.
type BusMessage struct {
	Channel string
	Payload []byte
}
