// Package ibkr implements the Broker interface on the Interactive Brokers
// Client Portal gateway REST API. The gateway runs alongside the service
// and owns the brokerage session; we only speak plain HTTP to it.
package ibkr

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/types"
)

const BrokerName = "ibkr"

var log = logrus.WithField("broker", BrokerName)

type Exchange struct {
	client    *RestClient
	accountID string

	// symbol -> contract id cache; contracts never change id
	conidMu    sync.Mutex
	conidCache map[string]int64
}

var _ types.Broker = (*Exchange)(nil)

func New(gatewayURL, accountID string) *Exchange {
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}

	return &Exchange{
		client:     NewRestClient(gatewayURL),
		accountID:  accountID,
		conidCache: make(map[string]int64),
	}
}

func (e *Exchange) Name() string {
	return BrokerName
}

type orderPayload struct {
	AccountID  string  `json:"acctId"`
	ConID      int64   `json:"conid"`
	ClientOID  string  `json:"cOID,omitempty"`
	OrderType  string  `json:"orderType"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price,omitempty"`
	AuxPrice   float64 `json:"auxPrice,omitempty"`
	TIF        string  `json:"tif"`
	OutsideRTH bool    `json:"outsideRth"`
}

type orderResult struct {
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
}

func (e *Exchange) SubmitOrder(ctx context.Context, submit types.SubmitOrder) (*types.Order, error) {
	conid, err := e.lookupConID(ctx, submit.Symbol)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"orders": []orderPayload{newOrderPayload(e.accountID, conid, submit)},
	}

	req, err := e.client.newRequest(ctx, http.MethodPost, "/iserver/account/"+e.accountID+"/orders", nil, payload)
	if err != nil {
		return nil, err
	}

	body, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var results []orderResult
	if err := unmarshal(body, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, "gateway returned no order result")
	}

	now := time.Now()
	order := types.Order{
		SubmitOrder:   submit,
		BrokerOrderID: results[0].OrderID,
		Broker:        BrokerName,
		Status:        toGlobalStatus(results[0].OrderStatus),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	log.Infof("submitted order %s %s %s, broker order id %s, status %s",
		order.Symbol, order.Side, order.Type, order.BrokerOrderID, order.Status)
	return &order, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, brokerOrderID string) error {
	req, err := e.client.newRequest(ctx, http.MethodDelete,
		"/iserver/account/"+e.accountID+"/order/"+brokerOrderID, nil, nil)
	if err != nil {
		return err
	}

	_, err = e.client.sendRequest(req)
	return err
}

func (e *Exchange) ReplaceOrder(ctx context.Context, brokerOrderID string, patch types.OrderPatch) (*types.Order, error) {
	payload := map[string]interface{}{}
	if patch.Quantity != nil {
		payload["quantity"] = *patch.Quantity
	}
	if patch.LimitPrice != nil {
		payload["price"] = *patch.LimitPrice
	}
	if patch.StopPrice != nil {
		payload["auxPrice"] = *patch.StopPrice
	}

	req, err := e.client.newRequest(ctx, http.MethodPost,
		"/iserver/account/"+e.accountID+"/order/"+brokerOrderID, nil, payload)
	if err != nil {
		return nil, err
	}

	body, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var results []orderResult
	if err := unmarshal(body, &results); err != nil {
		return nil, err
	}

	order := types.Order{
		BrokerOrderID: brokerOrderID,
		Broker:        BrokerName,
		Status:        types.OrderStatusAccepted,
		UpdatedAt:     time.Now(),
	}
	if len(results) > 0 {
		order.BrokerOrderID = results[0].OrderID
		order.Status = toGlobalStatus(results[0].OrderStatus)
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

	return &order, nil
}

type liveOrder struct {
	OrderID     int64   `json:"orderId"`
	Ticker      string  `json:"ticker"`
	Side        string  `json:"side"`
	OrderType   string  `json:"orderType"`
	Price       float64 `json:"price"`
	AuxPrice    float64 `json:"auxPrice"`
	TotalSize   float64 `json:"totalSize"`
	FilledQty   float64 `json:"filledQuantity"`
	AvgPrice    float64 `json:"avgPrice"`
	Status      string  `json:"status"`
	LastExecute int64   `json:"lastExecutionTime_r"`
}

func (e *Exchange) QueryOrders(ctx context.Context, q types.OrderQuery) ([]types.Order, error) {
	req, err := e.client.newRequest(ctx, http.MethodGet, "/iserver/account/orders", nil, nil)
	if err != nil {
		return nil, err
	}

	body, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var page struct {
		Orders []liveOrder `json:"orders"`
	}
	if err := unmarshal(body, &page); err != nil {
		return nil, err
	}

	var orders []types.Order
	for _, wireOrder := range page.Orders {
		order := toGlobalOrder(wireOrder)
		if q.Status != "" && order.Status != q.Status {
			continue
		}
		orders = append(orders, order)
		if q.Limit > 0 && len(orders) >= q.Limit {
			break
		}
	}

	return orders, nil
}

type portfolioPosition struct {
	Ticker        string  `json:"ticker"`
	ContractDesc  string  `json:"contractDesc"`
	Position      float64 `json:"position"`
	AvgCost       float64 `json:"avgCost"`
	MarketPrice   float64 `json:"mktPrice"`
	MarketValue   float64 `json:"mktValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

func (e *Exchange) QueryPositions(ctx context.Context) ([]types.Position, error) {
	req, err := e.client.newRequest(ctx, http.MethodGet, "/portfolio/"+e.accountID+"/positions/0", nil, nil)
	if err != nil {
		return nil, err
	}

	body, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var wirePositions []portfolioPosition
	if err := unmarshal(body, &wirePositions); err != nil {
		return nil, err
	}

	var positions []types.Position
	for _, wirePosition := range wirePositions {
		symbol := wirePosition.Ticker
		if symbol == "" {
			symbol = wirePosition.ContractDesc
		}

		positions = append(positions, types.Position{
			Symbol:        symbol,
			Quantity:      wirePosition.Position,
			AvgEntryPrice: wirePosition.AvgCost,
			CurrentPrice:  wirePosition.MarketPrice,
			MarketValue:   wirePosition.MarketValue,
			CostBasis:     wirePosition.Position * wirePosition.AvgCost,
			UnrealizedPL:  wirePosition.UnrealizedPnL,
		})
	}

	return positions, nil
}

// ClosePosition submits an opposite side market order; the gateway has no
// single-shot close endpoint.
func (e *Exchange) ClosePosition(ctx context.Context, symbol string, quantity float64) error {
	positions, err := e.QueryPositions(ctx)
	if err != nil {
		return err
	}

	for _, position := range positions {
		if position.Symbol != symbol || position.Quantity == 0 {
			continue
		}

		side := types.SideTypeSell
		if position.Quantity < 0 {
			side = types.SideTypeBuy
		}

		qty := quantity
		if qty <= 0 || qty > abs(position.Quantity) {
			qty = abs(position.Quantity)
		}

		_, err = e.SubmitOrder(ctx, types.SubmitOrder{
			Symbol:      symbol,
			Side:        side,
			Type:        types.OrderTypeMarket,
			Quantity:    qty,
			TimeInForce: types.TimeInForceDay,
		})
		return err
	}

	return types.ErrNotFound
}

type secdefResult struct {
	ConID int64 `json:"conid"`
}

func (e *Exchange) lookupConID(ctx context.Context, symbol string) (int64, error) {
	e.conidMu.Lock()
	conid, ok := e.conidCache[symbol]
	e.conidMu.Unlock()
	if ok {
		return conid, nil
	}

	req, err := e.client.newRequest(ctx, http.MethodGet, "/iserver/secdef/search?symbol="+symbol, nil, nil)
	if err != nil {
		return 0, err
	}

	body, err := e.client.sendRequest(req)
	if err != nil {
		return 0, err
	}

	var results []secdefResult
	if err := unmarshal(body, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, errors.Wrapf(types.ErrNotFound, "no contract for symbol %s", symbol)
	}

	e.conidMu.Lock()
	e.conidCache[symbol] = results[0].ConID
	e.conidMu.Unlock()
	return results[0].ConID, nil
}
