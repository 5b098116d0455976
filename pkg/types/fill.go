package types

import (
	"fmt"
	"time"
)

// FillEvent is a broker-reported execution of all or part of an order.
// The router emits fill events to the position ledger.
type FillEvent struct {
	OrderID string   `json:"order_id"`
	UserID  string   `json:"user_id"`
	Symbol  string   `json:"symbol"`
	Side    SideType `json:"side"`

	Quantity float64 `json:"qty"`
	Price    float64 `json:"price"`

	Time time.Time `json:"timestamp"`
}

func (e FillEvent) String() string {
	return fmt.Sprintf("FILL %s %s %s %f @ %f", e.OrderID, e.Symbol, e.Side, e.Quantity, e.Price)
}
