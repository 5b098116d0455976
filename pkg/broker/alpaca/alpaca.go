// Package alpaca implements the Broker interface on the Alpaca Trading REST
// API (v2).
package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/types"
)

const BrokerName = "alpaca"

var log = logrus.WithField("broker", BrokerName)

type Exchange struct {
	client *RestClient
}

var _ types.Broker = (*Exchange)(nil)

func New(key, secret, baseURL string) *Exchange {
	if baseURL == "" {
		baseURL = PaperAPIURL
	}

	return &Exchange{
		client: NewRestClient(baseURL).Auth(key, secret),
	}
}

func (e *Exchange) Name() string {
	return BrokerName
}

func (e *Exchange) SubmitOrder(ctx context.Context, submit types.SubmitOrder) (*types.Order, error) {
	payload := newOrderRequest(submit)

	req, err := e.client.newRequest(ctx, http.MethodPost, "/v2/orders", nil, payload)
	if err != nil {
		return nil, err
	}

	response, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var wireOrder orderResponse
	if err := response.DecodeJSON(&wireOrder); err != nil {
		return nil, errors.Wrap(err, "failed to decode order response")
	}

	order := toGlobalOrder(wireOrder)
	log.Infof("submitted order %s %s %s, broker order id %s, status %s",
		order.Symbol, order.Side, order.Type, order.BrokerOrderID, order.Status)
	return &order, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, brokerOrderID string) error {
	req, err := e.client.newRequest(ctx, http.MethodDelete, "/v2/orders/"+brokerOrderID, nil, nil)
	if err != nil {
		return err
	}

	_, err = e.client.sendRequest(req)
	return err
}

func (e *Exchange) ReplaceOrder(ctx context.Context, brokerOrderID string, patch types.OrderPatch) (*types.Order, error) {
	payload := replaceOrderRequest{}
	if patch.Quantity != nil {
		payload.Qty = formatFloat(*patch.Quantity)
	}
	if patch.LimitPrice != nil {
		payload.LimitPrice = formatFloat(*patch.LimitPrice)
	}
	if patch.StopPrice != nil {
		payload.StopPrice = formatFloat(*patch.StopPrice)
	}
	if patch.Trail != nil {
		payload.Trail = formatFloat(*patch.Trail)
	}

	req, err := e.client.newRequest(ctx, http.MethodPatch, "/v2/orders/"+brokerOrderID, nil, payload)
	if err != nil {
		return nil, err
	}

	response, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var wireOrder orderResponse
	if err := response.DecodeJSON(&wireOrder); err != nil {
		return nil, errors.Wrap(err, "failed to decode replace response")
	}

	order := toGlobalOrder(wireOrder)
	return &order, nil
}

func (e *Exchange) QueryOrders(ctx context.Context, q types.OrderQuery) ([]types.Order, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Add("status", toWireStatusFilter(q.Status))
	}
	if q.Limit > 0 {
		params.Add("limit", strconv.Itoa(q.Limit))
	}

	req, err := e.client.newRequest(ctx, http.MethodGet, "/v2/orders", params, nil)
	if err != nil {
		return nil, err
	}

	response, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var wireOrders []orderResponse
	if err := response.DecodeJSON(&wireOrders); err != nil {
		return nil, errors.Wrap(err, "failed to decode orders response")
	}

	orders := make([]types.Order, 0, len(wireOrders))
	for _, wireOrder := range wireOrders {
		orders = append(orders, toGlobalOrder(wireOrder))
	}

	return orders, nil
}

func (e *Exchange) QueryPositions(ctx context.Context) ([]types.Position, error) {
	req, err := e.client.newRequest(ctx, http.MethodGet, "/v2/positions", nil, nil)
	if err != nil {
		return nil, err
	}

	response, err := e.client.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var wirePositions []positionResponse
	if err := response.DecodeJSON(&wirePositions); err != nil {
		return nil, errors.Wrap(err, "failed to decode positions response")
	}

	positions := make([]types.Position, 0, len(wirePositions))
	for _, wirePosition := range wirePositions {
		positions = append(positions, toGlobalPosition(wirePosition))
	}

	return positions, nil
}

func (e *Exchange) ClosePosition(ctx context.Context, symbol string, quantity float64) error {
	params := url.Values{}
	if quantity > 0 {
		params.Add("qty", formatFloat(quantity))
	}

	req, err := e.client.newRequest(ctx, http.MethodDelete, "/v2/positions/"+symbol, params, nil)
	if err != nil {
		return err
	}

	_, err = e.client.sendRequest(req)
	return err
}
