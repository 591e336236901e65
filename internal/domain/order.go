package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a request to trade a pair. Prices and amounts are fixed-point
// int64 at 1e6 scale; float64 appears only at API/display boundaries.
type Order struct {
	ID             string
	UserID         string
	Pair           string
	Side           OrderSide
	Type           OrderType
	PriceTicks     int64 // price * 1e6; zero for market orders
	AmountUnits    int64 // size * 1e6
	RemainingUnits int64 // monotonically decreasing, never negative
	Status         OrderStatus
	CreatedAt      time.Time
}

// Price returns the float64 display price from fixed-point ticks.
func (o Order) Price() float64 {
	return float64(o.PriceTicks) / 1e6
}

// Amount returns the float64 display amount from fixed-point units.
func (o Order) Amount() float64 {
	return float64(o.AmountUnits) / 1e6
}

// FilledUnits returns how much of the order has been filled so far.
func (o Order) FilledUnits() int64 {
	return o.AmountUnits - o.RemainingUnits
}

// IsBuy reports whether the order is on the buy side.
func (o Order) IsBuy() bool {
	return o.Side == OrderSideBuy
}

// MatchResult is the outcome of submitting an order to the matching engine.
type MatchResult struct {
	Trades         []Trade
	FilledUnits    int64
	RemainingUnits int64
}

// ExecutionReport is returned to callers after routing. Fills against the
// AMM leg are estimates until the settlement queue confirms them.
type ExecutionReport struct {
	OrderID        string
	Status         OrderStatus
	Trades         []Trade
	FilledUnits    int64
	RemainingUnits int64
	AvgPriceTicks  int64 // amount-weighted mean across all fills
	BookUnits      int64 // portion executed against the resting book
	AMMUnits       int64 // portion handed to the AMM (estimated)
	SettlementIDs  []string
	Estimated      bool
}
