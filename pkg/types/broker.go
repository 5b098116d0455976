package types

import (
	"context"
)

// Broker is the capability set every brokerage backend implements.
// Exactly one broker is active per deployment, selected at startup by
// credential precedence. Callers never branch on the concrete type.
//
// Every call either returns a normalized result or fails with one of the
// fixed taxonomy errors (ErrAuth, ErrRateLimited, ErrInvalidRequest,
// ErrBrokerUnavailable, ErrNotFound); adapters must not leak their own
// error types across this boundary.
type Broker interface {
	Name() string

	SubmitOrder(ctx context.Context, order SubmitOrder) (*Order, error)

	CancelOrder(ctx context.Context, brokerOrderID string) error

	ReplaceOrder(ctx context.Context, brokerOrderID string, patch OrderPatch) (*Order, error)

	QueryOrders(ctx context.Context, q OrderQuery) ([]Order, error)

	QueryPositions(ctx context.Context) ([]Position, error)

	ClosePosition(ctx context.Context, symbol string, quantity float64) error
}

// OrderPatch carries the mutable fields of an order replace request.
// Nil fields are left untouched.
type OrderPatch struct {
	Quantity   *float64 `json:"qty,omitempty"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopPrice  *float64 `json:"stop_price,omitempty"`
	Trail      *float64 `json:"trail,omitempty"`
}

// IsEmpty returns true when the patch carries no changes.
func (p OrderPatch) IsEmpty() bool {
	return p.Quantity == nil && p.LimitPrice == nil && p.StopPrice == nil && p.Trail == nil
}

type OrderQuery struct {
	Status OrderStatus
	Limit  int
}
