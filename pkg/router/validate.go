package router

import (
	"github.com/pkg/errors"

	"github.com/apexhq/apex/pkg/types"
)

// normalize fills the wire defaults before validation: omitted type means a
// market order, omitted time in force means a day order.
func normalize(submit *types.SubmitOrder) {
	if submit.Type == "" {
		submit.Type = types.OrderTypeMarket
	}
	if submit.TimeInForce == "" {
		submit.TimeInForce = types.TimeInForceDay
	}
}

// validate rejects malformed order specs locally before any broker call.
func validate(submit types.SubmitOrder) error {
	if submit.Symbol == "" {
		return errors.Wrap(types.ErrInvalidRequest, "symbol is required")
	}

	if submit.Quantity <= 0 {
		return errors.Wrapf(types.ErrInvalidRequest, "quantity must be positive, got %f", submit.Quantity)
	}

	switch submit.Side {
	case types.SideTypeBuy, types.SideTypeSell:
	default:
		return errors.Wrapf(types.ErrInvalidRequest, "invalid side %q", submit.Side)
	}

	switch submit.Type {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop, types.OrderTypeStopLimit:
	default:
		return errors.Wrapf(types.ErrInvalidRequest, "invalid order type %q", submit.Type)
	}

	switch submit.TimeInForce {
	case types.TimeInForceDay, types.TimeInForceGTC:
	default:
		return errors.Wrapf(types.ErrInvalidRequest, "invalid time in force %q", submit.TimeInForce)
	}

	if submit.Type.NeedsLimitPrice() && submit.LimitPrice <= 0 {
		return errors.Wrapf(types.ErrInvalidRequest, "%s order requires a positive limit price", submit.Type)
	}

	if submit.Type.NeedsStopPrice() && submit.StopPrice <= 0 {
		return errors.Wrapf(types.ErrInvalidRequest, "%s order requires a positive stop price", submit.Type)
	}

	if submit.TrailPrice > 0 && submit.TrailPercent > 0 {
		return errors.Wrap(types.ErrInvalidRequest, "trail price and trail percent are mutually exclusive")
	}

	if leg := submit.TakeProfit; leg != nil && leg.LimitPrice <= 0 {
		return errors.Wrap(types.ErrInvalidRequest, "take profit leg requires a positive limit price")
	}

	if leg := submit.StopLoss; leg != nil && leg.StopPrice <= 0 {
		return errors.Wrap(types.ErrInvalidRequest, "stop loss leg requires a positive stop price")
	}

	return nil
}
