package types

import (
	"fmt"
	"time"
)

// OrderType define order type
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// NeedsLimitPrice returns true if the order type requires a limit price field.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice returns true if the order type requires a stop price field.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

type TimeInForce string

const (
	TimeInForceDay = TimeInForce("day")
	TimeInForceGTC = TimeInForce("gtc")
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal returns true when the status can no longer transition.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}

	return false
}

// BracketLeg is a contingent take-profit or stop-loss leg attached to a
// primary order.
type BracketLeg struct {
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
}

type SubmitOrder struct {
	// ClientOrderID is the caller supplied idempotency key. Optional.
	ClientOrderID string `json:"client_order_id,omitempty" db:"client_order_id"`

	Symbol string    `json:"symbol" db:"symbol"`
	Side   SideType  `json:"side" db:"side"`
	Type   OrderType `json:"type" db:"order_type"`

	Quantity   float64 `json:"qty" db:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty" db:"limit_price"`
	StopPrice  float64 `json:"stop_price,omitempty" db:"stop_price"`

	TimeInForce   TimeInForce `json:"time_in_force" db:"time_in_force"`
	ExtendedHours bool        `json:"extended_hours" db:"extended_hours"`

	TakeProfit *BracketLeg `json:"take_profit,omitempty" db:"-"`
	StopLoss   *BracketLeg `json:"stop_loss,omitempty" db:"-"`

	// TrailPrice and TrailPercent are mutually exclusive.
	TrailPrice   float64 `json:"trail_price,omitempty" db:"trail_price"`
	TrailPercent float64 `json:"trail_percent,omitempty" db:"trail_percent"`
}

func (o SubmitOrder) String() string {
	return fmt.Sprintf("SubmitOrder %s %s %s %f", o.Symbol, o.Side, o.Type, o.Quantity)
}

type Order struct {
	SubmitOrder

	// OrderID is the externally visible order id, either the client supplied
	// idempotency key or generated at submission.
	OrderID string `json:"id" db:"order_id"`

	// BrokerOrderID is the id assigned by the active broker backend.
	BrokerOrderID string `json:"broker_order_id,omitempty" db:"broker_order_id"`

	Broker string `json:"broker" db:"broker"`
	UserID string `json:"user_id" db:"user_id"`

	Status         OrderStatus `json:"status" db:"status"`
	FilledQuantity float64     `json:"filled_qty" db:"filled_quantity"`

	// FilledAvgPrice is meaningful only when FilledQuantity > 0.
	FilledAvgPrice float64 `json:"filled_avg_price" db:"filled_avg_price"`

	RejectReason string `json:"reject_reason,omitempty" db:"reject_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (o Order) String() string {
	return fmt.Sprintf("ORDER %s %s %s %s %f/%f @ %f | %s",
		o.OrderID, o.Symbol, o.Side, o.Type, o.FilledQuantity, o.Quantity, o.FilledAvgPrice, o.Status)
}
