// Package paper implements the fallback brokerage backend used when no live
// broker credentials are configured. Submissions never fail: market orders
// fill synchronously at the reference price, while limit and stop orders
// rest until a subsequently ingested quote crosses them.
package paper

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/types"
)

const BrokerName = "paper"

// DefaultReferencePrice is used when an order arrives before any quote was
// seen and carries no price of its own. This mirrors the simulation stub of
// the original engine and is not a realistic matching policy.
const DefaultReferencePrice = 100.0

var log = logrus.WithField("broker", BrokerName)

var orderID uint64

func nextOrderID() string {
	return "paper-" + strconv.FormatUint(atomic.AddUint64(&orderID, 1), 10)
}

type Simulator struct {
	mu         sync.Mutex
	lastPrices map[string]float64
	open       map[string]types.Order
	closed     []types.Order

	orderUpdateCallbacks []func(order types.Order)

	defaultPrice float64

	// autoFillDelay > 0 enables the quote-less fallback: resting orders are
	// force-filled after the delay. Documented as a simulation stub.
	autoFillDelay time.Duration
}

var _ types.Broker = (*Simulator)(nil)

func New(defaultPrice float64, autoFillDelay time.Duration) *Simulator {
	if defaultPrice <= 0 {
		defaultPrice = DefaultReferencePrice
	}

	return &Simulator{
		lastPrices:    make(map[string]float64),
		open:          make(map[string]types.Order),
		defaultPrice:  defaultPrice,
		autoFillDelay: autoFillDelay,
	}
}

func (s *Simulator) Name() string {
	return BrokerName
}

// OnOrderUpdate registers a callback for asynchronous fills of resting
// orders. Synchronous fills are reported through the SubmitOrder return
// value only.
func (s *Simulator) OnOrderUpdate(cb func(order types.Order)) {
	s.orderUpdateCallbacks = append(s.orderUpdateCallbacks, cb)
}

func (s *Simulator) emitOrderUpdate(order types.Order) {
	for _, cb := range s.orderUpdateCallbacks {
		cb(order)
	}
}

// SubmitOrder never fails. Market orders fill immediately at the last known
// price for the symbol, the order's own limit price, or the configured
// default, in that precedence.
func (s *Simulator) SubmitOrder(ctx context.Context, submit types.SubmitOrder) (*types.Order, error) {
	now := time.Now()
	order := types.Order{
		SubmitOrder:   submit,
		BrokerOrderID: nextOrderID(),
		Broker:        BrokerName,
		Status:        types.OrderStatusAccepted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if submit.Type == types.OrderTypeMarket {
		fillOrder(&order, s.referencePrice(submit), now)
		s.closed = append(s.closed, order)
		return &order, nil
	}

	s.open[order.BrokerOrderID] = order

	if s.autoFillDelay > 0 {
		id := order.BrokerOrderID
		time.AfterFunc(s.autoFillDelay, func() {
			s.autoFill(id)
		})
	}

	return &order, nil
}

// referencePrice must be called with the lock held.
func (s *Simulator) referencePrice(submit types.SubmitOrder) float64 {
	if last, ok := s.lastPrices[submit.Symbol]; ok && last > 0 {
		return last
	}

	if submit.LimitPrice > 0 {
		return submit.LimitPrice
	}

	return s.defaultPrice
}

func (s *Simulator) autoFill(brokerOrderID string) {
	s.mu.Lock()
	order, ok := s.open[brokerOrderID]
	if !ok {
		s.mu.Unlock()
		return
	}

	price := order.LimitPrice
	if price <= 0 {
		price = order.StopPrice
	}
	if price <= 0 {
		price = s.referencePrice(order.SubmitOrder)
	}

	fillOrder(&order, price, time.Now())
	delete(s.open, brokerOrderID)
	s.closed = append(s.closed, order)
	s.mu.Unlock()

	log.Debugf("auto filled resting order %s after %s", brokerOrderID, s.autoFillDelay)
	s.emitOrderUpdate(order)
}

// MarkPrice feeds a reference price into the simulator and fills any resting
// order the price crosses. Buy limits fill at or below the limit, sell
// limits at or above; stops trigger on a cross of the stop price and stop
// limits convert to plain limits once triggered.
func (s *Simulator) MarkPrice(symbol string, price float64) {
	var filled []types.Order

	s.mu.Lock()
	s.lastPrices[symbol] = price
	now := time.Now()

	for id, order := range s.open {
		if order.Symbol != symbol {
			continue
		}

		fillPrice, ok := crossPrice(&order, price)
		if !ok {
			// a triggered stop limit stays resting as a plain limit
			s.open[id] = order
			continue
		}

		fillOrder(&order, fillPrice, now)
		delete(s.open, id)
		s.closed = append(s.closed, order)
		filled = append(filled, order)
	}
	s.mu.Unlock()

	for _, order := range filled {
		s.emitOrderUpdate(order)
	}
}

func crossPrice(order *types.Order, price float64) (float64, bool) {
	switch order.Type {

	case types.OrderTypeStop:
		if order.Side == types.SideTypeBuy && price >= order.StopPrice {
			return price, true
		}
		if order.Side == types.SideTypeSell && price <= order.StopPrice {
			return price, true
		}

	case types.OrderTypeStopLimit:
		triggered := (order.Side == types.SideTypeBuy && price >= order.StopPrice) ||
			(order.Side == types.SideTypeSell && price <= order.StopPrice)
		if triggered {
			order.Type = types.OrderTypeLimit
			return crossPrice(order, price)
		}

	case types.OrderTypeLimit:
		if order.Side == types.SideTypeBuy && price <= order.LimitPrice {
			return order.LimitPrice, true
		}
		if order.Side == types.SideTypeSell && price >= order.LimitPrice {
			return order.LimitPrice, true
		}
	}

	return 0, false
}

func fillOrder(order *types.Order, price float64, at time.Time) {
	order.Status = types.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.FilledAvgPrice = price
	order.UpdatedAt = at
}

func (s *Simulator) CancelOrder(ctx context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.open[brokerOrderID]
	if !ok {
		return types.ErrNotFound
	}

	delete(s.open, brokerOrderID)
	order.Status = types.OrderStatusCanceled
	order.UpdatedAt = time.Now()
	s.closed = append(s.closed, order)
	return nil
}

func (s *Simulator) ReplaceOrder(ctx context.Context, brokerOrderID string, patch types.OrderPatch) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.open[brokerOrderID]
	if !ok {
		return nil, types.ErrNotFound
	}

	if patch.Quantity != nil {
		order.Quantity = *patch.Quantity
	}
	if patch.LimitPrice != nil {
		order.LimitPrice = *patch.LimitPrice
	}
	if patch.StopPrice != nil {
		order.StopPrice = *patch.StopPrice
	}
	if patch.Trail != nil {
		order.TrailPrice = *patch.Trail
	}

	order.UpdatedAt = time.Now()
	s.open[brokerOrderID] = order
	return &order, nil
}

func (s *Simulator) QueryOrders(ctx context.Context, q types.OrderQuery) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []types.Order
	for _, order := range s.open {
		orders = append(orders, order)
	}
	orders = append(orders, s.closed...)

	var result []types.Order
	for _, order := range orders {
		if q.Status != "" && order.Status != q.Status {
			continue
		}
		result = append(result, order)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}

	return result, nil
}

// QueryPositions returns nothing: the position ledger is authoritative for
// paper deployments, rebuilt from fills.
func (s *Simulator) QueryPositions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}

// ClosePosition is a no-op for the simulator; closes are composed as
// opposite-side orders by the ledger and flow through SubmitOrder.
func (s *Simulator) ClosePosition(ctx context.Context, symbol string, quantity float64) error {
	return nil
}
