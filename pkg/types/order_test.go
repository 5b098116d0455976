package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderType_PriceRequirements(t *testing.T) {
	assert.False(t, OrderTypeMarket.NeedsLimitPrice())
	assert.True(t, OrderTypeLimit.NeedsLimitPrice())
	assert.True(t, OrderTypeStopLimit.NeedsLimitPrice())
	assert.True(t, OrderTypeStopLimit.NeedsStopPrice())
	assert.True(t, OrderTypeStop.NeedsStopPrice())
	assert.False(t, OrderTypeLimit.NeedsStopPrice())
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected} {
		assert.True(t, status.Terminal(), string(status))
	}
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusAccepted, OrderStatusPartiallyFilled} {
		assert.False(t, status.Terminal(), string(status))
	}
}

func TestSideType(t *testing.T) {
	assert.Equal(t, SideTypeSell, SideTypeBuy.Reverse())
	assert.Equal(t, SideTypeBuy, SideTypeSell.Reverse())
	assert.Equal(t, 1.0, SideTypeBuy.Sign())
	assert.Equal(t, -1.0, SideTypeSell.Sign())
}
