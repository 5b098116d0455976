package types

import (
	"fmt"
	"time"
)

// Quote is the latest top-of-book snapshot for a symbol.
// Quotes are ephemeral and last-value-wins; no history is retained.
type Quote struct {
	Symbol string `json:"symbol"`

	BidPrice float64 `json:"bid"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask"`
	AskSize  float64 `json:"ask_size"`

	Last float64 `json:"last,omitempty"`

	Time time.Time `json:"timestamp"`
}

// ReferencePrice returns the best usable price from the quote:
// the last trade price if present, otherwise the mid price, otherwise
// whichever side of the book is populated.
func (q *Quote) ReferencePrice() float64 {
	if q.Last > 0 {
		return q.Last
	}

	if q.BidPrice > 0 && q.AskPrice > 0 {
		return (q.BidPrice + q.AskPrice) / 2
	}

	if q.BidPrice > 0 {
		return q.BidPrice
	}

	return q.AskPrice
}

func (q *Quote) String() string {
	return fmt.Sprintf("QUOTE %s BID/ASK:%f/%f LAST:%f TIME:%s",
		q.Symbol, q.BidPrice, q.AskPrice, q.Last, q.Time.String())
}

// Bar is a single OHLCV aggregate returned by the market data source.
type Bar struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}
