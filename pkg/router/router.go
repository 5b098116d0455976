// Package router owns the authoritative order records, delegates to the
// active broker and reconciles broker responses into the local lifecycle
// state machine:
//
//	pending -> (accepted <-> partially_filled) -> filled | canceled | rejected
//
// pending is the only initial state and never survives a call: by the time
// PlaceOrder returns, the order is accepted, filled or rejected.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/metrics"
	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("component", "router")

const defaultBrokerTimeout = 10 * time.Second

// OrderUpdateEmitter is implemented by brokers that push asynchronous order
// updates, like the paper simulator filling resting orders on quote crosses.
type OrderUpdateEmitter interface {
	OnOrderUpdate(cb func(order types.Order))
}

type Router struct {
	broker  types.Broker
	timeout time.Duration

	mu         sync.RWMutex
	orders     map[string]*types.Order
	byBrokerID map[string]string

	locksMu sync.Mutex
	locks   map[string]*orderLock

	fillCallbacks []func(ev types.FillEvent)
}

// orderLock serializes mutations per order id while distinct ids stay fully
// concurrent.
type orderLock struct {
	mu   sync.Mutex
	refs int
}

func New(b types.Broker, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = defaultBrokerTimeout
	}

	r := &Router{
		broker:     b,
		timeout:    timeout,
		orders:     make(map[string]*types.Order),
		byBrokerID: make(map[string]string),
		locks:      make(map[string]*orderLock),
	}

	if emitter, ok := b.(OrderUpdateEmitter); ok {
		emitter.OnOrderUpdate(r.handleOrderUpdate)
	}

	return r
}

// OnFill registers a callback invoked for every executed quantity delta.
// The position ledger subscribes here.
func (r *Router) OnFill(cb func(ev types.FillEvent)) {
	r.fillCallbacks = append(r.fillCallbacks, cb)
}

func (r *Router) emitFill(ev types.FillEvent) {
	metrics.FillsAppliedMetrics.WithLabelValues(r.broker.Name()).Inc()
	for _, cb := range r.fillCallbacks {
		cb(ev)
	}
}

func (r *Router) acquire(orderID string) *orderLock {
	r.locksMu.Lock()
	l, ok := r.locks[orderID]
	if !ok {
		l = &orderLock{}
		r.locks[orderID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Router) release(orderID string, l *orderLock) {
	l.mu.Unlock()

	r.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, orderID)
	}
	r.locksMu.Unlock()
}

// PlaceOrder validates the submission, sends it to the active broker and stores
// the resulting record. A duplicate client order id returns the prior
// record with ErrIdempotencyConflict and submits nothing; the replay must
// come from the owning account or it is rejected outright. Broker failures
// are surfaced immediately; the rejected order is stored with the reason
// and never retried here.
func (r *Router) PlaceOrder(ctx context.Context, userID string, submit types.SubmitOrder) (*types.Order, error) {
	normalize(&submit)

	if err := validate(submit); err != nil {
		metrics.OrdersRejectedMetrics.WithLabelValues(r.broker.Name(), "invalid").Inc()
		return nil, err
	}

	orderID := submit.ClientOrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	l := r.acquire(orderID)
	defer r.release(orderID, l)

	if prior := r.snapshot(orderID); prior != nil {
		// only the owning account may see the prior record on a replay
		if prior.UserID != userID {
			return nil, errors.Wrapf(types.ErrInvalidRequest, "client order id %s already in use", orderID)
		}
		return prior, types.ErrIdempotencyConflict
	}

	now := time.Now()
	order := &types.Order{
		SubmitOrder: submit,
		OrderID:     orderID,
		Broker:      r.broker.Name(),
		UserID:      userID,
		Status:      types.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	brokerCtx, cancel := context.WithTimeout(ctx, r.timeout)
	created, err := r.broker.SubmitOrder(brokerCtx, submit)
	cancel()

	if err != nil {
		order.Status = types.OrderStatusRejected
		order.RejectReason = err.Error()
		order.UpdatedAt = time.Now()
		r.store(order)

		metrics.OrdersRejectedMetrics.WithLabelValues(r.broker.Name(), "broker").Inc()
		log.WithError(err).Warnf("broker rejected order %s %s %s", submit.Symbol, submit.Side, submit.Type)

		copied := *order
		return &copied, err
	}

	adoptBrokerOrder(order, created)
	r.store(order)
	metrics.OrdersPlacedMetrics.WithLabelValues(r.broker.Name()).Inc()

	if order.FilledQuantity > 0 {
		r.emitFill(types.FillEvent{
			OrderID:  order.OrderID,
			UserID:   order.UserID,
			Symbol:   order.Symbol,
			Side:     order.Side,
			Quantity: order.FilledQuantity,
			Price:    order.FilledAvgPrice,
			Time:     order.UpdatedAt,
		})
	}

	copied := *order
	return &copied, nil
}

// adoptBrokerOrder merges the authoritative broker fields into the local
// record, keeping the 0 <= filled <= quantity invariant and never leaving
// the order pending.
func adoptBrokerOrder(order *types.Order, created *types.Order) {
	order.BrokerOrderID = created.BrokerOrderID

	if created.Quantity > 0 {
		order.Quantity = created.Quantity
	}
	if created.LimitPrice > 0 {
		order.LimitPrice = created.LimitPrice
	}
	if created.StopPrice > 0 {
		order.StopPrice = created.StopPrice
	}

	order.FilledQuantity = clamp(created.FilledQuantity, 0, order.Quantity)
	if order.FilledQuantity > 0 {
		order.FilledAvgPrice = created.FilledAvgPrice
	}

	switch created.Status {
	case "", types.OrderStatusPending:
		order.Status = types.OrderStatusAccepted
	default:
		order.Status = created.Status
	}

	order.UpdatedAt = time.Now()
}

// Get returns a snapshot of the stored order.
func (r *Router) Get(userID, orderID string) (*types.Order, error) {
	order := r.snapshot(orderID)
	if order == nil || order.UserID != userID {
		return nil, errors.Wrapf(types.ErrNotFound, "order %s", orderID)
	}

	return order, nil
}

// List returns the user's orders from the local store, newest first,
// optionally filtered by status. A cold local store falls back to the
// broker's order query; routine reads never hit the broker to stay clear of
// its rate limits.
func (r *Router) List(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]types.Order, error) {
	r.mu.RLock()
	var orders []types.Order
	for _, order := range r.orders {
		if order.UserID != userID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *order)
	}
	cold := len(r.orders) == 0
	r.mu.RUnlock()

	if cold {
		brokerCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		brokerOrders, err := r.broker.QueryOrders(brokerCtx, types.OrderQuery{Status: status, Limit: limit})
		if err != nil {
			return nil, err
		}

		for i := range brokerOrders {
			brokerOrders[i].UserID = userID
		}
		return brokerOrders, nil
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}

	return orders, nil
}

// Update patches a working order through the broker's replace call and
// applies the returned authoritative fields. Terminal orders reject the
// attempt with ErrInvalidState.
func (r *Router) Update(ctx context.Context, userID, orderID string, patch types.OrderPatch) (*types.Order, error) {
	if patch.IsEmpty() {
		return nil, errors.Wrap(types.ErrInvalidRequest, "empty order patch")
	}

	l := r.acquire(orderID)
	defer r.release(orderID, l)

	order := r.snapshot(orderID)
	if order == nil || order.UserID != userID {
		return nil, errors.Wrapf(types.ErrNotFound, "order %s", orderID)
	}

	if order.Status.Terminal() {
		return nil, errors.Wrapf(types.ErrInvalidState, "order %s is %s", orderID, order.Status)
	}

	brokerCtx, cancel := context.WithTimeout(ctx, r.timeout)
	replaced, err := r.broker.ReplaceOrder(brokerCtx, order.BrokerOrderID, patch)
	cancel()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	stored := r.orders[orderID]
	if replaced.BrokerOrderID != "" && replaced.BrokerOrderID != stored.BrokerOrderID {
		delete(r.byBrokerID, stored.BrokerOrderID)
		stored.BrokerOrderID = replaced.BrokerOrderID
		r.byBrokerID[stored.BrokerOrderID] = orderID
	}
	if replaced.Quantity > 0 {
		stored.Quantity = replaced.Quantity
	}
	if replaced.LimitPrice > 0 {
		stored.LimitPrice = replaced.LimitPrice
	}
	if replaced.StopPrice > 0 {
		stored.StopPrice = replaced.StopPrice
	}
	stored.FilledQuantity = clamp(stored.FilledQuantity, 0, stored.Quantity)
	stored.UpdatedAt = time.Now()
	copied := *stored
	r.mu.Unlock()

	return &copied, nil
}

// Cancel cancels a working order. Cancelling an already terminal order is
// an idempotent no-op returning the unchanged record.
func (r *Router) Cancel(ctx context.Context, userID, orderID string) (*types.Order, error) {
	l := r.acquire(orderID)
	defer r.release(orderID, l)

	order := r.snapshot(orderID)
	if order == nil || order.UserID != userID {
		return nil, errors.Wrapf(types.ErrNotFound, "order %s", orderID)
	}

	if order.Status.Terminal() {
		return order, nil
	}

	brokerCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := r.broker.CancelOrder(brokerCtx, order.BrokerOrderID)
	cancel()

	// the broker not knowing the order means there is nothing left to cancel
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	r.mu.Lock()
	stored := r.orders[orderID]
	stored.Status = types.OrderStatusCanceled
	stored.UpdatedAt = time.Now()
	copied := *stored
	r.mu.Unlock()

	return &copied, nil
}

// CancelAll cancels every working order of the user and returns the records
// it canceled. Per-order failures are logged and skipped so one stuck order
// does not block the rest.
func (r *Router) CancelAll(ctx context.Context, userID string) []types.Order {
	r.mu.RLock()
	var working []string
	for id, order := range r.orders {
		if order.UserID == userID && !order.Status.Terminal() {
			working = append(working, id)
		}
	}
	r.mu.RUnlock()

	var canceled []types.Order
	for _, orderID := range working {
		order, err := r.Cancel(ctx, userID, orderID)
		if err != nil {
			log.WithError(err).Warnf("cancel all: failed to cancel order %s", orderID)
			continue
		}
		canceled = append(canceled, *order)
	}

	return canceled
}

// handleOrderUpdate folds an asynchronous broker-side order update into the
// local record, emitting a fill event for any newly executed quantity.
func (r *Router) handleOrderUpdate(update types.Order) {
	r.mu.RLock()
	orderID, ok := r.byBrokerID[update.BrokerOrderID]
	r.mu.RUnlock()
	if !ok {
		log.Debugf("ignoring update for unknown broker order %s", update.BrokerOrderID)
		return
	}

	l := r.acquire(orderID)
	defer r.release(orderID, l)

	r.mu.Lock()
	stored, ok := r.orders[orderID]
	if !ok || stored.Status.Terminal() {
		r.mu.Unlock()
		return
	}

	newFilled := clamp(update.FilledQuantity, 0, stored.Quantity)
	delta := newFilled - stored.FilledQuantity

	if delta > 0 {
		// weighted average of the previously filled part and the new delta
		if stored.FilledQuantity > 0 && update.FilledAvgPrice > 0 {
			stored.FilledAvgPrice = (stored.FilledAvgPrice*stored.FilledQuantity + update.FilledAvgPrice*delta) / newFilled
		} else if update.FilledAvgPrice > 0 {
			stored.FilledAvgPrice = update.FilledAvgPrice
		}
		stored.FilledQuantity = newFilled
	}

	switch update.Status {
	case types.OrderStatusCanceled:
		stored.Status = types.OrderStatusCanceled
	case types.OrderStatusRejected:
		// rejected is only reachable from pending; a broker reject arriving
		// after acceptance ends the working order as canceled
		stored.Status = types.OrderStatusCanceled
	default:
		if stored.FilledQuantity >= stored.Quantity {
			stored.Status = types.OrderStatusFilled
		} else if stored.FilledQuantity > 0 {
			stored.Status = types.OrderStatusPartiallyFilled
		}
	}

	stored.UpdatedAt = time.Now()
	ev := types.FillEvent{
		OrderID:  stored.OrderID,
		UserID:   stored.UserID,
		Symbol:   stored.Symbol,
		Side:     stored.Side,
		Quantity: delta,
		Price:    update.FilledAvgPrice,
		Time:     stored.UpdatedAt,
	}
	r.mu.Unlock()

	if delta > 0 {
		r.emitFill(ev)
	}
}

// EvictTerminalBefore drops terminal orders whose last update is older than
// the cutoff. This is the retention policy path; orders are never deleted
// synchronously.
func (r *Router) EvictTerminalBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, order := range r.orders {
		if order.Status.Terminal() && order.UpdatedAt.Before(cutoff) {
			delete(r.byBrokerID, order.BrokerOrderID)
			delete(r.orders, id)
			evicted++
		}
	}

	if evicted > 0 {
		log.Infof("retention evicted %d terminal orders", evicted)
	}
	return evicted
}

// Snapshot returns a copy of every stored order. The archiver sweeps this
// for terminal records.
func (r *Router) Snapshot() []types.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]types.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, *order)
	}
	return orders
}

func (r *Router) store(order *types.Order) {
	r.mu.Lock()
	r.orders[order.OrderID] = order
	if order.BrokerOrderID != "" {
		r.byBrokerID[order.BrokerOrderID] = order.OrderID
	}
	r.mu.Unlock()
}

// snapshot returns a copy of the stored order, nil if absent.
func (r *Router) snapshot(orderID string) *types.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil
	}

	copied := *order
	return &copied
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
