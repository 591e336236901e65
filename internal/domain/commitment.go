package domain

import "time"

// Commitment is the first half of a commit-reveal order submission. Only the
// hash of the order payload is stored; the payload itself arrives at reveal
// time and must hash to PayloadHash.
type Commitment struct {
	ID          string
	UserID      string
	PayloadHash string // 0x-prefixed keccak256 hex
	CreatedAt   time.Time
}

// CommitReceipt is returned to the client after a successful commit.
type CommitReceipt struct {
	CommitmentID string
	RevealAfter  time.Time
}

// RevealReceipt is returned after a clean reveal: the order has been assigned
// to a batch auction window and will execute at the window boundary.
type RevealReceipt struct {
	BatchID                string
	EstimatedExecutionTime time.Time
}

// OrderPayload is the revealed order content. Its canonical JSON encoding,
// concatenated with the commit signature, must hash to the committed value.
type OrderPayload struct {
	Pair   string  `json:"pair"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
	Price  float64 `json:"price,omitempty"`
	Amount float64 `json:"amount"`
	Nonce  int64   `json:"nonce"`
}
