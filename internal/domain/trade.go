package domain

import "time"

// TradeSettlement tracks the on-chain leg of a trade, when one exists.
type TradeSettlement string

const (
	TradeSettlementNone      TradeSettlement = "none"
	TradeSettlementPending   TradeSettlement = "pending"
	TradeSettlementCompleted TradeSettlement = "completed"
	TradeSettlementFailed    TradeSettlement = "failed"
)

// Trade is a single fill between two orders (or an order and the AMM).
// Price is always the maker's resting price.
type Trade struct {
	ID          string
	Pair        string
	BuyOrderID  string
	SellOrderID string
	PriceTicks  int64
	AmountUnits int64
	Timestamp   time.Time
	Settlement  TradeSettlement
	BatchID     string // set when the fill cleared inside a batch auction
}

// Price returns the float64 display price from fixed-point ticks.
func (t Trade) Price() float64 {
	return float64(t.PriceTicks) / 1e6
}

// Amount returns the float64 display amount from fixed-point units.
func (t Trade) Amount() float64 {
	return float64(t.AmountUnits) / 1e6
}
