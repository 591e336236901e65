package domain

import "time"

// PriceLevel is an aggregated view over all resting orders at one price.
type PriceLevel struct {
	PriceTicks  int64 `json:"price_ticks"`
	AmountUnits int64 `json:"amount_units"`
	OrderCount  int   `json:"order_count"`
}

// Price returns the float64 display price from fixed-point ticks.
func (l PriceLevel) Price() float64 {
	return float64(l.PriceTicks) / 1e6
}

// BookSnapshot is a depth-limited aggregated view of one pair's book.
// Bids are sorted descending, asks ascending; a snapshot is never crossed.
type BookSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBidTicks returns the highest bid price, or 0 if the bid side is empty.
func (s BookSnapshot) BestBidTicks() int64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].PriceTicks
}

// BestAskTicks returns the lowest ask price, or 0 if the ask side is empty.
func (s BookSnapshot) BestAskTicks() int64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].PriceTicks
}
