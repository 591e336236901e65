package domain

import "time"

// Batch is one call-auction window for a single pair. All fills inside a
// batch share the identical uniform clearing price.
type Batch struct {
	ID                string
	Pair              string
	WindowStart       time.Time
	WindowEnd         time.Time
	Orders            []Order
	UniformPriceTicks int64
	Executed          bool
	ExecutedAt        *time.Time
}

// BatchOutcome summarises an executed batch for auditing and archival.
type BatchOutcome struct {
	BatchID           string
	Pair              string
	UniformPriceTicks int64
	Trades            []Trade
	Skipped           []string // order ids skipped by the price-impact cap
	ExecutedAt        time.Time
}
