package domain

import "time"

// SettlementPriority selects which lane a request is queued into. Lanes are
// drained strictly in priority order.
type SettlementPriority string

const (
	PriorityUrgent SettlementPriority = "urgent"
	PriorityHigh   SettlementPriority = "high"
	PriorityNormal SettlementPriority = "normal"
	PriorityLow    SettlementPriority = "low"
)

// Lanes lists every priority lane from most to least urgent.
var Lanes = []SettlementPriority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// SettlementState is the lifecycle of a settlement request. Transitions are
// strictly pending -> processing -> {completed|failed}; a retry moves the
// request back to pending.
type SettlementState string

const (
	SettlementPending    SettlementState = "pending"
	SettlementProcessing SettlementState = "processing"
	SettlementCompleted  SettlementState = "completed"
	SettlementFailed     SettlementState = "failed"
)

// SettlementRequest is the on-chain leg of an AMM trade awaiting execution.
type SettlementRequest struct {
	ID          string
	OrderID     string
	Pair        string
	Side        OrderSide
	AmountUnits int64
	LimitTicks  int64 // worst acceptable effective price, 0 = no bound
	Priority    SettlementPriority
	RetryCount  int
	MaxRetries  int
	Status      SettlementState
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SettlementStatus is the polling view of a request's progress.
type SettlementStatus struct {
	ID          string          `json:"id"`
	Status      SettlementState `json:"status"`
	TxHash      string          `json:"tx_hash,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
	RetryCount  int             `json:"retry_count"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
