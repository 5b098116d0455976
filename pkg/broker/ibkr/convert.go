package ibkr

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/apexhq/apex/pkg/types"
)

func newOrderPayload(accountID string, conid int64, submit types.SubmitOrder) orderPayload {
	payload := orderPayload{
		AccountID:  accountID,
		ConID:      conid,
		ClientOID:  submit.ClientOrderID,
		OrderType:  toWireOrderType(submit.Type),
		Side:       strings.ToUpper(string(submit.Side)),
		Quantity:   submit.Quantity,
		TIF:        strings.ToUpper(string(submit.TimeInForce)),
		OutsideRTH: submit.ExtendedHours,
	}

	if submit.Type.NeedsLimitPrice() {
		payload.Price = submit.LimitPrice
	}
	if submit.Type.NeedsStopPrice() {
		payload.AuxPrice = submit.StopPrice
	}

	return payload
}

func toWireOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeMarket:
		return "MKT"
	case types.OrderTypeLimit:
		return "LMT"
	case types.OrderTypeStop:
		return "STP"
	case types.OrderTypeStopLimit:
		return "STOP_LIMIT"
	}

	return "MKT"
}

func fromWireOrderType(t string) types.OrderType {
	switch t {
	case "MKT", "Market":
		return types.OrderTypeMarket
	case "LMT", "Limit":
		return types.OrderTypeLimit
	case "STP", "Stop":
		return types.OrderTypeStop
	case "STOP_LIMIT", "Stop Limit":
		return types.OrderTypeStopLimit
	}

	return types.OrderTypeMarket
}

func toGlobalStatus(status string) types.OrderStatus {
	switch status {
	case "Submitted", "PreSubmitted", "PendingSubmit":
		return types.OrderStatusAccepted

	case "Filled":
		return types.OrderStatusFilled

	case "Cancelled", "PendingCancel":
		return types.OrderStatusCanceled

	case "Inactive":
		return types.OrderStatusRejected
	}

	return types.OrderStatusAccepted
}

func toGlobalOrder(wireOrder liveOrder) types.Order {
	status := toGlobalStatus(wireOrder.Status)
	if status == types.OrderStatusAccepted && wireOrder.FilledQty > 0 {
		status = types.OrderStatusPartiallyFilled
	}

	return types.Order{
		SubmitOrder: types.SubmitOrder{
			Symbol:     wireOrder.Ticker,
			Side:       types.SideType(strings.ToLower(wireOrder.Side)),
			Type:       fromWireOrderType(wireOrder.OrderType),
			Quantity:   wireOrder.TotalSize,
			LimitPrice: wireOrder.Price,
			StopPrice:  wireOrder.AuxPrice,
		},
		BrokerOrderID:  strconv.FormatInt(wireOrder.OrderID, 10),
		Broker:         BrokerName,
		Status:         status,
		FilledQuantity: wireOrder.FilledQty,
		FilledAvgPrice: wireOrder.AvgPrice,
		UpdatedAt:      time.Unix(0, wireOrder.LastExecute*int64(time.Millisecond)),
	}
}

func unmarshal(body []byte, o interface{}) error {
	if err := json.Unmarshal(body, o); err != nil {
		return errors.Wrapf(err, "failed to decode gateway response: %s", string(body))
	}

	return nil
}

func abs(v float64) float64 {
	return math.Abs(v)
}
