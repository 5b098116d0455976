package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/pkg/types"
)

func newTestExchange(t *testing.T, handler http.HandlerFunc) *Exchange {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return New("test-key", "test-secret", ts.URL)
}

func TestExchange_SubmitOrder(t *testing.T) {
	var gotRequest orderRequest

	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "test-secret", r.Header.Get("APCA-API-SECRET-KEY"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		_ = json.NewEncoder(w).Encode(orderResponse{
			ID:             "broker-1",
			ClientOrderID:  gotRequest.ClientOrderID,
			Symbol:         gotRequest.Symbol,
			Qty:            gotRequest.Qty,
			FilledQty:      "0",
			Side:           gotRequest.Side,
			Type:           gotRequest.Type,
			TimeInForce:    gotRequest.TimeInForce,
			LimitPrice:     gotRequest.LimitPrice,
			Status:         "new",
		})
	})

	order, err := e.SubmitOrder(context.Background(), types.SubmitOrder{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          types.SideTypeBuy,
		Type:          types.OrderTypeLimit,
		Quantity:      10,
		LimitPrice:    150.5,
		TimeInForce:   types.TimeInForceGTC,
	})
	require.NoError(t, err)

	// numeric fields cross the wire as strings
	assert.Equal(t, "10", gotRequest.Qty)
	assert.Equal(t, "150.5", gotRequest.LimitPrice)
	assert.Equal(t, "gtc", gotRequest.TimeInForce)

	assert.Equal(t, "broker-1", order.BrokerOrderID)
	assert.Equal(t, types.OrderStatusAccepted, order.Status)
	assert.Equal(t, 10.0, order.Quantity)
	assert.Equal(t, 150.5, order.LimitPrice)
}

func TestExchange_SubmitBracketOrder(t *testing.T) {
	var gotRequest orderRequest

	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		_ = json.NewEncoder(w).Encode(orderResponse{ID: "broker-2", Status: "new", Qty: gotRequest.Qty})
	})

	_, err := e.SubmitOrder(context.Background(), types.SubmitOrder{
		Symbol:      "AAPL",
		Side:        types.SideTypeBuy,
		Type:        types.OrderTypeMarket,
		Quantity:    10,
		TimeInForce: types.TimeInForceDay,
		TakeProfit:  &types.BracketLeg{LimitPrice: 170},
		StopLoss:    &types.BracketLeg{StopPrice: 140},
	})
	require.NoError(t, err)

	assert.Equal(t, "bracket", gotRequest.OrderClass)
	require.NotNil(t, gotRequest.TakeProfit)
	assert.Equal(t, "170", gotRequest.TakeProfit.LimitPrice)
	require.NotNil(t, gotRequest.StopLoss)
	assert.Equal(t, "140", gotRequest.StopLoss.StopPrice)
}

func TestExchange_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		want       error
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrAuth},
		{"forbidden", http.StatusForbidden, types.ErrAuth},
		{"not found", http.StatusNotFound, types.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited},
		{"unprocessable", http.StatusUnprocessableEntity, types.ErrInvalidRequest},
		{"server error", http.StatusInternalServerError, types.ErrBrokerUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": tc.name})
			})

			_, err := e.SubmitOrder(context.Background(), types.SubmitOrder{
				Symbol:      "AAPL",
				Side:        types.SideTypeBuy,
				Type:        types.OrderTypeMarket,
				Quantity:    1,
				TimeInForce: types.TimeInForceDay,
			})
			assert.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.name, "the broker message is preserved")
		})
	}
}

func TestExchange_CancelOrder(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/orders/broker-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, e.CancelOrder(context.Background(), "broker-1"))
}

func TestExchange_QueryOrders(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode([]orderResponse{
			{ID: "b1", Symbol: "AAPL", Qty: "10", FilledQty: "4", FilledAvgPrice: "150.1", Status: "partially_filled"},
		})
	})

	orders, err := e.QueryOrders(context.Background(), types.OrderQuery{
		Status: types.OrderStatusAccepted,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderStatusPartiallyFilled, orders[0].Status)
	assert.Equal(t, 4.0, orders[0].FilledQuantity)
	assert.Equal(t, 150.1, orders[0].FilledAvgPrice)
}

func TestExchange_QueryPositions(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]positionResponse{
			{Symbol: "AAPL", Qty: "-5", AvgEntryPrice: "150", CurrentPrice: "145", UnrealizedPL: "25"},
		})
	})

	positions, err := e.QueryPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -5.0, positions[0].Quantity, "short positions keep their sign")
	assert.Equal(t, 25.0, positions[0].UnrealizedPL)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, types.OrderStatusAccepted, toGlobalStatus("new"))
	assert.Equal(t, types.OrderStatusAccepted, toGlobalStatus("pending_new"))
	assert.Equal(t, types.OrderStatusFilled, toGlobalStatus("filled"))
	assert.Equal(t, types.OrderStatusCanceled, toGlobalStatus("expired"))
	assert.Equal(t, types.OrderStatusRejected, toGlobalStatus("suspended"))
}
