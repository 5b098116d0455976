package alpaca

import (
	"strconv"
	"time"

	"github.com/apexhq/apex/pkg/types"
)

// Alpaca transmits all numeric order fields as strings.

type bracketLeg struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TrailPrice    string `json:"trail_price,omitempty"`
	TrailPercent  string `json:"trail_percent,omitempty"`
	ExtendedHours bool   `json:"extended_hours,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`

	OrderClass string      `json:"order_class,omitempty"`
	TakeProfit *bracketLeg `json:"take_profit,omitempty"`
	StopLoss   *bracketLeg `json:"stop_loss,omitempty"`
}

type replaceOrderRequest struct {
	Qty        string `json:"qty,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
	Trail      string `json:"trail,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	TimeInForce    string `json:"time_in_force"`
	LimitPrice     string `json:"limit_price"`
	StopPrice      string `json:"stop_price"`
	Status         string `json:"status"`
	ExtendedHours  bool   `json:"extended_hours"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type positionResponse struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	MarketValue    string `json:"market_value"`
	CostBasis      string `json:"cost_basis"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
	CurrentPrice   string `json:"current_price"`
}

func newOrderRequest(submit types.SubmitOrder) orderRequest {
	payload := orderRequest{
		Symbol:        submit.Symbol,
		Qty:           formatFloat(submit.Quantity),
		Side:          string(submit.Side),
		Type:          string(submit.Type),
		TimeInForce:   string(submit.TimeInForce),
		ExtendedHours: submit.ExtendedHours,
		ClientOrderID: submit.ClientOrderID,
	}

	if submit.Type.NeedsLimitPrice() {
		payload.LimitPrice = formatFloat(submit.LimitPrice)
	}
	if submit.Type.NeedsStopPrice() {
		payload.StopPrice = formatFloat(submit.StopPrice)
	}
	if submit.TrailPrice > 0 {
		payload.TrailPrice = formatFloat(submit.TrailPrice)
	}
	if submit.TrailPercent > 0 {
		payload.TrailPercent = formatFloat(submit.TrailPercent)
	}

	if submit.TakeProfit != nil || submit.StopLoss != nil {
		payload.OrderClass = "bracket"
		if submit.TakeProfit != nil {
			payload.TakeProfit = &bracketLeg{LimitPrice: formatFloat(submit.TakeProfit.LimitPrice)}
		}
		if submit.StopLoss != nil {
			leg := &bracketLeg{StopPrice: formatFloat(submit.StopLoss.StopPrice)}
			if submit.StopLoss.LimitPrice > 0 {
				leg.LimitPrice = formatFloat(submit.StopLoss.LimitPrice)
			}
			payload.StopLoss = leg
		}
	}

	return payload
}

func toGlobalOrder(wireOrder orderResponse) types.Order {
	return types.Order{
		SubmitOrder: types.SubmitOrder{
			ClientOrderID: wireOrder.ClientOrderID,
			Symbol:        wireOrder.Symbol,
			Side:          types.SideType(wireOrder.Side),
			Type:          types.OrderType(wireOrder.Type),
			Quantity:      mustParseFloat(wireOrder.Qty),
			LimitPrice:    mustParseFloat(wireOrder.LimitPrice),
			StopPrice:     mustParseFloat(wireOrder.StopPrice),
			TimeInForce:   types.TimeInForce(wireOrder.TimeInForce),
			ExtendedHours: wireOrder.ExtendedHours,
		},
		BrokerOrderID:  wireOrder.ID,
		Broker:         BrokerName,
		Status:         toGlobalStatus(wireOrder.Status),
		FilledQuantity: mustParseFloat(wireOrder.FilledQty),
		FilledAvgPrice: mustParseFloat(wireOrder.FilledAvgPrice),
		CreatedAt:      wireOrder.CreatedAt,
		UpdatedAt:      wireOrder.UpdatedAt,
	}
}

func toGlobalPosition(wirePosition positionResponse) types.Position {
	return types.Position{
		Symbol:         wirePosition.Symbol,
		Quantity:       mustParseFloat(wirePosition.Qty),
		AvgEntryPrice:  mustParseFloat(wirePosition.AvgEntryPrice),
		MarketValue:    mustParseFloat(wirePosition.MarketValue),
		CostBasis:      mustParseFloat(wirePosition.CostBasis),
		UnrealizedPL:   mustParseFloat(wirePosition.UnrealizedPL),
		UnrealizedPLPC: mustParseFloat(wirePosition.UnrealizedPLPC),
		CurrentPrice:   mustParseFloat(wirePosition.CurrentPrice),
	}
}

func toGlobalStatus(status string) types.OrderStatus {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding":
		return types.OrderStatusAccepted

	case "partially_filled":
		return types.OrderStatusPartiallyFilled

	case "filled":
		return types.OrderStatusFilled

	case "canceled", "expired", "pending_cancel", "done_for_day":
		return types.OrderStatusCanceled

	case "rejected", "stopped", "suspended":
		return types.OrderStatusRejected
	}

	return types.OrderStatusAccepted
}

// toWireStatusFilter maps our status filter onto the open/closed filter of
// the orders endpoint.
func toWireStatusFilter(status types.OrderStatus) string {
	switch status {
	case types.OrderStatusAccepted, types.OrderStatusPartiallyFilled:
		return "open"

	case types.OrderStatusFilled, types.OrderStatusCanceled, types.OrderStatusRejected:
		return "closed"
	}

	return "all"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func mustParseFloat(s string) float64 {
	if s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}

	return v
}
