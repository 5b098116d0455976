package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func buyFill(qty, price float64) FillEvent {
	return FillEvent{Symbol: "AAPL", Side: SideTypeBuy, Quantity: qty, Price: price, Time: time.Now()}
}

func sellFill(qty, price float64) FillEvent {
	return FillEvent{Symbol: "AAPL", Side: SideTypeSell, Quantity: qty, Price: price, Time: time.Now()}
}

func TestPosition_WeightedAverageEntry(t *testing.T) {
	var p Position

	realized := p.ApplyFill(buyFill(10, 100))
	assert.Zero(t, realized)

	realized = p.ApplyFill(buyFill(10, 110))
	assert.Zero(t, realized)

	assert.Equal(t, 20.0, p.Quantity)
	assert.Equal(t, 105.0, p.AvgEntryPrice)
	assert.Equal(t, 2100.0, p.CostBasis)
}

func TestPosition_ReduceKeepsEntryPrice(t *testing.T) {
	var p Position
	p.ApplyFill(buyFill(20, 105))

	realized := p.ApplyFill(sellFill(15, 120))
	assert.InDelta(t, 225.0, realized, 1e-9)
	assert.Equal(t, 5.0, p.Quantity)
	assert.Equal(t, 105.0, p.AvgEntryPrice)
	assert.InDelta(t, 225.0, p.RealizedPL, 1e-9)
}

func TestPosition_FullClose(t *testing.T) {
	var p Position
	p.ApplyFill(buyFill(10, 100))

	realized := p.ApplyFill(sellFill(10, 95))
	assert.InDelta(t, -50.0, realized, 1e-9)
	assert.True(t, p.IsClosed())
	assert.Zero(t, p.AvgEntryPrice)
}

func TestPosition_FlipLongToShort(t *testing.T) {
	var p Position
	p.ApplyFill(buyFill(10, 100))

	realized := p.ApplyFill(sellFill(15, 110))
	assert.InDelta(t, 100.0, realized, 1e-9, "only the closed portion realizes")
	assert.Equal(t, -5.0, p.Quantity)
	assert.Equal(t, 110.0, p.AvgEntryPrice)
	assert.Equal(t, "short", p.Side())
}

func TestPosition_ShortProfitOnDrop(t *testing.T) {
	var p Position
	p.ApplyFill(sellFill(10, 100))
	assert.Equal(t, -10.0, p.Quantity)

	realized := p.ApplyFill(buyFill(4, 90))
	assert.InDelta(t, 40.0, realized, 1e-9)
	assert.Equal(t, -6.0, p.Quantity)
	assert.Equal(t, 100.0, p.AvgEntryPrice)
}

func TestPosition_MarkPrice(t *testing.T) {
	var p Position
	p.ApplyFill(buyFill(10, 100))

	p.MarkPrice(104, time.Now())
	assert.Equal(t, 104.0, p.CurrentPrice)
	assert.InDelta(t, 1040.0, p.MarketValue, 1e-9)
	assert.InDelta(t, 40.0, p.UnrealizedPL, 1e-9)
	assert.InDelta(t, 0.04, p.UnrealizedPLPC, 1e-9)
}

func TestPosition_ShortMarkToMarket(t *testing.T) {
	var p Position
	p.ApplyFill(sellFill(10, 100))

	p.MarkPrice(90, time.Now())
	assert.InDelta(t, 100.0, p.UnrealizedPL, 1e-9, "a short gains when the price falls")
	assert.InDelta(t, 0.1, p.UnrealizedPLPC, 1e-9)
}
