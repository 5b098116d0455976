package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/pkg/types"
)

func submit(side types.SideType, orderType types.OrderType, qty, limitPrice, stopPrice float64) types.SubmitOrder {
	return types.SubmitOrder{
		Symbol:      "AAPL",
		Side:        side,
		Type:        orderType,
		Quantity:    qty,
		LimitPrice:  limitPrice,
		StopPrice:   stopPrice,
		TimeInForce: types.TimeInForceDay,
	}
}

func TestSimulator_MarketOrderFillsAtLastPrice(t *testing.T) {
	s := New(0, 0)
	s.MarkPrice("AAPL", 123.45)

	order, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeMarket, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.Equal(t, 123.45, order.FilledAvgPrice)
	assert.Equal(t, 10.0, order.FilledQuantity)
}

func TestSimulator_MarketOrderFallbackPrices(t *testing.T) {
	s := New(0, 0)

	// no quote seen: a market order with a limit hint fills at the hint
	order, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeMarket, 10, 55, 0))
	require.NoError(t, err)
	assert.Equal(t, 55.0, order.FilledAvgPrice)

	// no quote and no hint: the default reference price applies
	order, err = s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeMarket, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, DefaultReferencePrice, order.FilledAvgPrice)
}

func TestSimulator_LimitOrderRestsThenCrosses(t *testing.T) {
	s := New(0, 0)

	var updates []types.Order
	s.OnOrderUpdate(func(order types.Order) { updates = append(updates, order) })

	order, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeLimit, 10, 150, 0))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusAccepted, order.Status)
	assert.Empty(t, updates)

	// price above the limit does not cross a buy
	s.MarkPrice("AAPL", 151)
	assert.Empty(t, updates)

	s.MarkPrice("AAPL", 149.5)
	require.Len(t, updates, 1)
	assert.Equal(t, types.OrderStatusFilled, updates[0].Status)
	assert.Equal(t, 150.0, updates[0].FilledAvgPrice, "buy limit fills at the limit price")
}

func TestSimulator_SellLimitCrossesUpward(t *testing.T) {
	s := New(0, 0)

	var updates []types.Order
	s.OnOrderUpdate(func(order types.Order) { updates = append(updates, order) })

	_, err := s.SubmitOrder(context.Background(), submit(types.SideTypeSell, types.OrderTypeLimit, 5, 160, 0))
	require.NoError(t, err)

	s.MarkPrice("AAPL", 159)
	assert.Empty(t, updates)

	s.MarkPrice("AAPL", 161)
	require.Len(t, updates, 1)
	assert.Equal(t, 160.0, updates[0].FilledAvgPrice)
}

func TestSimulator_StopOrderTriggersAtMarket(t *testing.T) {
	s := New(0, 0)

	var updates []types.Order
	s.OnOrderUpdate(func(order types.Order) { updates = append(updates, order) })

	_, err := s.SubmitOrder(context.Background(), submit(types.SideTypeSell, types.OrderTypeStop, 5, 0, 140))
	require.NoError(t, err)

	s.MarkPrice("AAPL", 141)
	assert.Empty(t, updates)

	s.MarkPrice("AAPL", 139.5)
	require.Len(t, updates, 1)
	assert.Equal(t, 139.5, updates[0].FilledAvgPrice, "stops fill at the triggering price")
}

func TestSimulator_StopLimitConvertsThenFills(t *testing.T) {
	s := New(0, 0)

	var updates []types.Order
	s.OnOrderUpdate(func(order types.Order) { updates = append(updates, order) })

	// buy stop limit: trigger at 150, cap at 151
	_, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeStopLimit, 5, 151, 150))
	require.NoError(t, err)

	// trigger crossed but the price is above the limit cap
	s.MarkPrice("AAPL", 152)
	assert.Empty(t, updates)

	s.MarkPrice("AAPL", 150.5)
	require.Len(t, updates, 1)
	assert.Equal(t, 151.0, updates[0].FilledAvgPrice)
}

func TestSimulator_CancelRestingOrder(t *testing.T) {
	s := New(0, 0)

	order, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeLimit, 10, 150, 0))
	require.NoError(t, err)

	require.NoError(t, s.CancelOrder(context.Background(), order.BrokerOrderID))

	err = s.CancelOrder(context.Background(), order.BrokerOrderID)
	assert.ErrorIs(t, err, types.ErrNotFound, "a canceled order is no longer open")

	// the canceled order never fills
	s.MarkPrice("AAPL", 100)
	orders, err := s.QueryOrders(context.Background(), types.OrderQuery{Status: types.OrderStatusCanceled})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestSimulator_ReplaceRestingOrder(t *testing.T) {
	s := New(0, 0)

	order, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeLimit, 10, 150, 0))
	require.NoError(t, err)

	newPrice := 145.0
	replaced, err := s.ReplaceOrder(context.Background(), order.BrokerOrderID, types.OrderPatch{LimitPrice: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, 145.0, replaced.LimitPrice)

	_, err = s.ReplaceOrder(context.Background(), "paper-999", types.OrderPatch{LimitPrice: &newPrice})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSimulator_AutoFillDelay(t *testing.T) {
	s := New(0, 10*time.Millisecond)

	done := make(chan types.Order, 1)
	s.OnOrderUpdate(func(order types.Order) { done <- order })

	_, err := s.SubmitOrder(context.Background(), submit(types.SideTypeBuy, types.OrderTypeLimit, 10, 150, 0))
	require.NoError(t, err)

	select {
	case order := <-done:
		assert.Equal(t, types.OrderStatusFilled, order.Status)
		assert.Equal(t, 150.0, order.FilledAvgPrice)
	case <-time.After(time.Second):
		t.Fatal("auto fill never happened")
	}
}
