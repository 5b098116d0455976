// Package ledger maintains per-user positions derived from fill events and
// marks them to market from the quote stream. It is the authoritative
// position source; broker-side position queries only seed it on startup.
package ledger

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("component", "ledger")

// OrderPlacer is the narrow slice of the order router the ledger needs to
// compose position closes as regular orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID string, submit types.SubmitOrder) (*types.Order, error)
}

type posKey struct {
	userID string
	symbol string
}

// entry carries a position together with its own lock so fills on distinct
// (user, symbol) keys never serialize against each other.
type entry struct {
	mu       sync.Mutex
	position types.Position
}

type Ledger struct {
	mu        sync.RWMutex // guards the map only; position math runs under entry.mu
	positions map[posKey]*entry
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[posKey]*entry),
	}
}

// ApplyFill folds an executed quantity into the user's position, opening,
// averaging up, reducing, flipping or closing it. Fully closed positions
// leave the ledger.
func (l *Ledger) ApplyFill(ev types.FillEvent) {
	if ev.Quantity <= 0 {
		return
	}

	key := posKey{userID: ev.UserID, symbol: ev.Symbol}

	l.mu.Lock()
	e, ok := l.positions[key]
	if !ok {
		e = &entry{position: types.Position{
			UserID: ev.UserID,
			Symbol: ev.Symbol,
		}}
		l.positions[key] = e
	}
	l.mu.Unlock()

	e.mu.Lock()
	realized := e.position.ApplyFill(ev)
	closed := e.position.IsClosed()
	e.mu.Unlock()

	if realized != 0 {
		log.Infof("realized %.2f on %s %s x %f @ %f", realized, ev.Symbol, ev.Side, ev.Quantity, ev.Price)
	}

	if closed {
		l.remove(key, e)
	}
}

// remove drops the entry unless a later fill on the same key reopened it.
func (l *Ledger) remove(key posKey, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.positions[key]
	if !ok || cur != e {
		return
	}

	cur.mu.Lock()
	closed := cur.position.IsClosed()
	cur.mu.Unlock()

	if closed {
		delete(l.positions, key)
	}
}

// MarkPrice revalues every position in the symbol against a fresh reference
// price. The hub's quote callback lands here.
func (l *Ledger) MarkPrice(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}

	l.mu.RLock()
	var entries []*entry
	for key, e := range l.positions {
		if key.symbol == symbol {
			entries = append(entries, e)
		}
	}
	l.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		e.position.MarkPrice(price, at)
		e.mu.Unlock()
	}
}

// Seed loads broker-reported positions for a user, skipping symbols the
// ledger already tracks. Live brokers are authoritative for pre-existing
// holdings at startup only.
func (l *Ledger) Seed(userID string, positions []types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, position := range positions {
		key := posKey{userID: userID, symbol: position.Symbol}
		if _, ok := l.positions[key]; ok {
			continue
		}

		seeded := position
		seeded.UserID = userID
		l.positions[key] = &entry{position: seeded}
	}
}

func (l *Ledger) Get(userID, symbol string) (*types.Position, error) {
	l.mu.RLock()
	e, ok := l.positions[posKey{userID: userID, symbol: symbol}]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "no position in %s", symbol)
	}

	e.mu.Lock()
	copied := e.position
	e.mu.Unlock()

	// the entry may have been closed after the map lookup
	if copied.IsClosed() {
		return nil, errors.Wrapf(types.ErrNotFound, "no position in %s", symbol)
	}
	return &copied, nil
}

// List returns the user's open positions sorted by symbol.
func (l *Ledger) List(userID string) []types.Position {
	l.mu.RLock()
	var entries []*entry
	for key, e := range l.positions {
		if key.userID == userID {
			entries = append(entries, e)
		}
	}
	l.mu.RUnlock()

	var positions []types.Position
	for _, e := range entries {
		e.mu.Lock()
		copied := e.position
		e.mu.Unlock()

		if !copied.IsClosed() {
			positions = append(positions, copied)
		}
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return positions
}

// Close liquidates up to quantity of the position by submitting an opposite
// side market order through the router, so the close follows the same
// lifecycle, fill and idempotency rules as any other order. quantity <= 0
// closes the whole position.
func (l *Ledger) Close(ctx context.Context, placer OrderPlacer, userID, symbol string, quantity float64) (*types.Order, error) {
	position, err := l.Get(userID, symbol)
	if err != nil {
		return nil, err
	}

	qty := math.Abs(position.Quantity)
	if quantity > 0 && quantity < qty {
		qty = quantity
	}

	side := types.SideTypeSell
	if position.Quantity < 0 {
		side = types.SideTypeBuy
	}

	return placer.PlaceOrder(ctx, userID, types.SubmitOrder{
		Symbol:      symbol,
		Side:        side,
		Type:        types.OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: types.TimeInForceDay,
	})
}

// CloseAll liquidates every open position of the user. Per-symbol failures
// are logged and skipped.
func (l *Ledger) CloseAll(ctx context.Context, placer OrderPlacer, userID string) []types.Order {
	var orders []types.Order
	for _, position := range l.List(userID) {
		order, err := l.Close(ctx, placer, userID, position.Symbol, 0)
		if err != nil {
			log.WithError(err).Warnf("failed to close position in %s", position.Symbol)
			continue
		}
		orders = append(orders, *order)
	}

	return orders
}
