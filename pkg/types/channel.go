package types

// Channel is a named subscription stream on the websocket interface.
type Channel string

const (
	// MarketDataChannel carries coalesced quote pushes.
	MarketDataChannel = Channel("market_data")
)

// Subscription identifies one connection's symbol set on a channel.
// Subscriptions are owned exclusively by the market data hub.
type Subscription struct {
	ConnectionID string   `json:"connection_id"`
	Channel      Channel  `json:"channel"`
	Symbols      []string `json:"symbols"`
}
