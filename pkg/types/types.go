package types

import "time"

// OrderSide represents the direction of an order or fill
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// Signed returns +1 for buys and -1 for sells
func (s OrderSide) Signed() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Order represents an order a sleeve proposes before execution
type Order struct {
	Market string    `json:"market"`
	Side   OrderSide `json:"side"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price,omitempty"` // 0 for market orders
}

// Fill represents an executed trade reported by a sleeve
type Fill struct {
	Market      string    `json:"market"`
	Side        OrderSide `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"` // realized P&L delta from this fill
	Timestamp   time.Time `json:"timestamp"`
}

// PositionUpdate represents a sleeve's mark-to-market snapshot for one market
type PositionUpdate struct {
	Market        string    `json:"market"`
	NetQty        float64   `json:"net_qty"` // signed net position, positive for long
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Timestamp     time.Time `json:"timestamp"`
}
