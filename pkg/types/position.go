package types

import (
	"fmt"
	"math"
	"time"
)

// Position is a signed holding for one (user, symbol) pair.
// Quantity > 0 means long, Quantity < 0 means short.
//
// Positions are created by the first fill that establishes exposure and
// removed when the quantity returns to zero. All mutation goes through
// ApplyFill and MarkPrice; the ledger serializes calls per (user, symbol).
type Position struct {
	UserID string `json:"user_id" db:"user_id"`
	Symbol string `json:"symbol" db:"symbol"`

	Quantity      float64 `json:"qty" db:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price" db:"avg_entry_price"`
	CostBasis     float64 `json:"cost_basis" db:"cost_basis"`

	CurrentPrice   float64 `json:"current_price" db:"current_price"`
	MarketValue    float64 `json:"market_value" db:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl" db:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc" db:"unrealized_plpc"`

	// RealizedPL accumulates profit locked in by reducing fills.
	RealizedPL float64 `json:"realized_pl" db:"realized_pl"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Side returns "long" or "short" based on the quantity sign.
func (p *Position) Side() string {
	if p.Quantity < 0 {
		return "short"
	}

	return "long"
}

// IsClosed returns true when the position no longer carries exposure.
func (p *Position) IsClosed() bool {
	return p.Quantity == 0
}

// ApplyFill applies an execution to the position and returns the realized
// profit of the reducing portion, zero if the fill only adds exposure.
//
// Same-direction fills recompute the weighted average entry price. An
// opposite-direction fill first reduces the position at the unchanged
// average entry price, realizing P/L on the reduced portion; any overshoot
// flips the position with the fill price as the new entry.
func (p *Position) ApplyFill(ev FillEvent) (realized float64) {
	signed := ev.Side.Sign() * ev.Quantity

	switch {
	case p.Quantity == 0 || sameSign(p.Quantity, signed):
		total := p.Quantity + signed
		p.AvgEntryPrice = (math.Abs(p.Quantity)*p.AvgEntryPrice + math.Abs(signed)*ev.Price) / math.Abs(total)
		p.Quantity = total

	case math.Abs(signed) < math.Abs(p.Quantity):
		// partial reduce, average entry stays put
		realized = reduceProfit(p.Quantity, p.AvgEntryPrice, ev.Price, math.Abs(signed))
		p.Quantity += signed

	default:
		// full close or flip
		realized = reduceProfit(p.Quantity, p.AvgEntryPrice, ev.Price, math.Abs(p.Quantity))
		remainder := p.Quantity + signed
		p.Quantity = remainder
		if remainder == 0 {
			p.AvgEntryPrice = 0
		} else {
			p.AvgEntryPrice = ev.Price
		}
	}

	p.RealizedPL += realized
	p.CurrentPrice = ev.Price
	p.UpdatedAt = ev.Time
	p.revalue()
	return realized
}

// MarkPrice refreshes the mark-to-market fields from the latest price.
func (p *Position) MarkPrice(price float64, at time.Time) {
	p.CurrentPrice = price
	p.UpdatedAt = at
	p.revalue()
}

func (p *Position) revalue() {
	p.CostBasis = p.Quantity * p.AvgEntryPrice
	p.MarketValue = p.Quantity * p.CurrentPrice
	p.UnrealizedPL = (p.CurrentPrice - p.AvgEntryPrice) * p.Quantity
	if p.CostBasis != 0 {
		p.UnrealizedPLPC = p.UnrealizedPL / math.Abs(p.CostBasis)
	} else {
		p.UnrealizedPLPC = 0
	}
}

func (p *Position) String() string {
	return fmt.Sprintf("POSITION %s %s: qty = %f, avg entry = %f, market value = %f",
		p.UserID, p.Symbol, p.Quantity, p.AvgEntryPrice, p.MarketValue)
}

// reduceProfit computes the realized profit of reducing |qty| units of a
// signed position at the given price. Long reduces profit when price rises,
// short reduces profit when price falls.
func reduceProfit(positionQty, avgEntry, price, qty float64) float64 {
	if positionQty > 0 {
		return (price - avgEntry) * qty
	}

	return (avgEntry - price) * qty
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
