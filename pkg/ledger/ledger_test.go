package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/pkg/types"
)

func fill(userID string, side types.SideType, qty, price float64) types.FillEvent {
	return types.FillEvent{
		UserID:   userID,
		Symbol:   "AAPL",
		Side:     side,
		Quantity: qty,
		Price:    price,
		Time:     time.Now(),
	}
}

func TestLedger_OpenAndAverage(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 110))

	position, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 20.0, position.Quantity)
	assert.Equal(t, 105.0, position.AvgEntryPrice)
	assert.Equal(t, 2100.0, position.CostBasis)
}

func TestLedger_ReduceRealizesProfit(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 20, 105))
	l.ApplyFill(fill("u1", types.SideTypeSell, 15, 120))

	position, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 5.0, position.Quantity)
	assert.Equal(t, 105.0, position.AvgEntryPrice, "reducing must not move the entry price")
	assert.InDelta(t, 15*(120-105), position.RealizedPL, 1e-9)
}

func TestLedger_FullCloseRemovesPosition(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.ApplyFill(fill("u1", types.SideTypeSell, 10, 90))

	_, err := l.Get("u1", "AAPL")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, l.List("u1"))
}

func TestLedger_FlipToShort(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.ApplyFill(fill("u1", types.SideTypeSell, 15, 110))

	position, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, -5.0, position.Quantity)
	assert.Equal(t, 110.0, position.AvgEntryPrice, "the flipped remainder enters at the fill price")
	assert.InDelta(t, 10*(110-100), position.RealizedPL, 1e-9)
	assert.Equal(t, "short", position.Side())
}

func TestLedger_ShortRealizesOnFallingPrice(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeSell, 10, 100))
	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 95))

	_, err := l.Get("u1", "AAPL")
	assert.ErrorIs(t, err, types.ErrNotFound, "short covered to zero leaves the ledger")
}

func TestLedger_MarkPrice(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.MarkPrice("AAPL", 104, time.Now())

	position, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 104.0, position.CurrentPrice)
	assert.InDelta(t, 40.0, position.UnrealizedPL, 1e-9)
	assert.InDelta(t, 0.04, position.UnrealizedPLPC, 1e-9)

	// unrelated symbols are untouched
	l.MarkPrice("MSFT", 500, time.Now())
	position, err = l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 104.0, position.CurrentPrice)
}

func TestLedger_UserIsolation(t *testing.T) {
	l := New()

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.ApplyFill(fill("u2", types.SideTypeBuy, 3, 100))

	p1, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	p2, err := l.Get("u2", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, p1.Quantity)
	assert.Equal(t, 3.0, p2.Quantity)
}

func TestLedger_Seed(t *testing.T) {
	l := New()
	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))

	l.Seed("u1", []types.Position{
		{Symbol: "AAPL", Quantity: 99, AvgEntryPrice: 1},
		{Symbol: "MSFT", Quantity: 5, AvgEntryPrice: 400},
	})

	position, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, position.Quantity, "seeding never overwrites tracked positions")

	seeded, err := l.Get("u1", "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, seeded.Quantity)
}

func TestLedger_ConcurrentFills(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			l.ApplyFill(fill("u1", types.SideTypeBuy, 1, 100))
		}()
		go func() {
			defer wg.Done()
			l.ApplyFill(types.FillEvent{
				UserID: "u2", Symbol: "MSFT", Side: types.SideTypeBuy, Quantity: 1, Price: 400, Time: time.Now(),
			})
		}()
		go func() {
			defer wg.Done()
			l.MarkPrice("AAPL", 101, time.Now())
		}()
	}
	wg.Wait()

	p1, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 50.0, p1.Quantity)

	p2, err := l.Get("u2", "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 50.0, p2.Quantity)
}

type recordingPlacer struct {
	placed []types.SubmitOrder
}

func (p *recordingPlacer) PlaceOrder(ctx context.Context, userID string, submit types.SubmitOrder) (*types.Order, error) {
	p.placed = append(p.placed, submit)
	return &types.Order{
		SubmitOrder: submit,
		OrderID:     "close-1",
		UserID:      userID,
		Status:      types.OrderStatusFilled,
	}, nil
}

func TestLedger_Close(t *testing.T) {
	l := New()
	placer := &recordingPlacer{}

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))

	order, err := l.Close(context.Background(), placer, "u1", "AAPL", 0)
	require.NoError(t, err)
	assert.Equal(t, types.SideTypeSell, order.Side)
	assert.Equal(t, 10.0, order.Quantity)
	assert.Equal(t, types.OrderTypeMarket, order.Type)
}

func TestLedger_ClosePartialAndShort(t *testing.T) {
	l := New()
	placer := &recordingPlacer{}

	l.ApplyFill(fill("u1", types.SideTypeSell, 8, 100))

	order, err := l.Close(context.Background(), placer, "u1", "AAPL", 3)
	require.NoError(t, err)
	assert.Equal(t, types.SideTypeBuy, order.Side, "closing a short buys it back")
	assert.Equal(t, 3.0, order.Quantity)

	// a close larger than the position is capped at the position size
	order, err = l.Close(context.Background(), placer, "u1", "AAPL", 50)
	require.NoError(t, err)
	assert.Equal(t, 8.0, order.Quantity)
}

func TestLedger_CloseUnknownSymbol(t *testing.T) {
	l := New()

	_, err := l.Close(context.Background(), &recordingPlacer{}, "u1", "TSLA", 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLedger_CloseAll(t *testing.T) {
	l := New()
	placer := &recordingPlacer{}

	l.ApplyFill(fill("u1", types.SideTypeBuy, 10, 100))
	l.ApplyFill(types.FillEvent{
		UserID: "u1", Symbol: "MSFT", Side: types.SideTypeSell, Quantity: 4, Price: 400, Time: time.Now(),
	})

	orders := l.CloseAll(context.Background(), placer, "u1")
	assert.Len(t, orders, 2)
	assert.Len(t, placer.placed, 2)
}
