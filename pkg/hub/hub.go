// Package hub fans quotes out to websocket subscribers. Quotes are ingested
// at source speed into a latest-value map; a fixed-interval broadcast loop
// pushes at most one message per symbol per subscriber per tick, so a burst
// of ticks coalesces into the latest quote instead of a backlog.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/metrics"
	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("component", "hub")

// DefaultBroadcastInterval paces the fan-out loop.
const DefaultBroadcastInterval = 100 * time.Millisecond

// Subscriber is one delivery endpoint, usually a websocket session. Send
// must not block indefinitely; a Send error drops the subscriber.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// QuoteMessage is the wire envelope pushed to subscribers.
type QuoteMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Data   types.Quote `json:"data"`
}

type quoteEntry struct {
	quote types.Quote
	seq   uint64
}

type connection struct {
	sub     Subscriber
	channel types.Channel
	symbols map[string]struct{}

	// lastSent tracks the newest quote sequence delivered per symbol,
	// which is what makes the broadcast coalescing.
	lastSent map[string]uint64
}

type Hub struct {
	interval time.Duration

	mu          sync.Mutex
	connections map[string]*connection
	quotes      map[string]quoteEntry
	seq         uint64

	quoteCallbacks      []func(quote types.Quote)
	disconnectCallbacks []func(connectionID string)
}

func New(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}

	return &Hub{
		interval:    interval,
		connections: make(map[string]*connection),
		quotes:      make(map[string]quoteEntry),
	}
}

// OnQuote registers a callback invoked synchronously for every ingested
// quote. The ledger and the paper simulator mark prices from here.
func (h *Hub) OnQuote(cb func(quote types.Quote)) {
	h.quoteCallbacks = append(h.quoteCallbacks, cb)
}

// OnDisconnect registers a callback invoked after the hub drops a
// subscriber, either explicitly or on a failed send.
func (h *Hub) OnDisconnect(cb func(connectionID string)) {
	h.disconnectCallbacks = append(h.disconnectCallbacks, cb)
}

// Ingest stores the quote as the latest for its symbol and notifies quote
// callbacks. Delivery to subscribers happens on the next broadcast tick.
func (h *Hub) Ingest(quote types.Quote) {
	if quote.Symbol == "" {
		return
	}

	h.mu.Lock()
	h.seq++
	h.quotes[quote.Symbol] = quoteEntry{quote: quote, seq: h.seq}
	callbacks := h.quoteCallbacks
	h.mu.Unlock()

	for _, cb := range callbacks {
		cb(quote)
	}
}

// LatestQuote returns the most recent quote seen for the symbol.
func (h *Hub) LatestQuote(symbol string) (types.Quote, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.quotes[symbol]
	return entry.quote, ok
}

// Subscribe adds symbols to the subscriber's set, registering the
// connection on first use, and returns the full sorted subscription for the
// acknowledgement message.
func (h *Hub) Subscribe(sub Subscriber, channel types.Channel, symbols []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[sub.ID()]
	if !ok {
		conn = &connection{
			sub:      sub,
			channel:  channel,
			symbols:  make(map[string]struct{}),
			lastSent: make(map[string]uint64),
		}
		h.connections[sub.ID()] = conn
		metrics.ConnectionsMetrics.WithLabelValues(string(channel)).Inc()
	}

	for _, symbol := range symbols {
		if symbol != "" {
			conn.symbols[symbol] = struct{}{}
		}
	}

	return conn.symbolList()
}

// Unsubscribe removes symbols from the subscriber's set and returns what
// remains. The connection itself stays registered.
func (h *Hub) Unsubscribe(connectionID string, symbols []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connectionID]
	if !ok {
		return nil
	}

	for _, symbol := range symbols {
		delete(conn.symbols, symbol)
		delete(conn.lastSent, symbol)
	}

	return conn.symbolList()
}

// Disconnect removes the connection entirely and fires disconnect
// callbacks. Safe to call for unknown ids.
func (h *Hub) Disconnect(connectionID string) {
	h.mu.Lock()
	conn, ok := h.connections[connectionID]
	if ok {
		delete(h.connections, connectionID)
		metrics.ConnectionsMetrics.WithLabelValues(string(conn.channel)).Dec()
	}
	callbacks := h.disconnectCallbacks
	h.mu.Unlock()

	if !ok {
		return
	}

	for _, cb := range callbacks {
		cb(connectionID)
	}
}

// Run drives the broadcast loop until the context is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Infof("broadcast loop started, interval %s", h.interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("broadcast loop stopped")
			return

		case <-ticker.C:
			h.broadcast()
		}
	}
}

type delivery struct {
	connectionID string
	sub          Subscriber
	payload      []byte
}

// broadcast plans deliveries under the lock and sends outside it, so one
// slow subscriber cannot stall ingestion. A failed send disconnects the
// subscriber.
func (h *Hub) broadcast() {
	var deliveries []delivery

	h.mu.Lock()
	for id, conn := range h.connections {
		if conn.channel != types.MarketDataChannel {
			continue
		}

		for symbol := range conn.symbols {
			entry, ok := h.quotes[symbol]
			if !ok || entry.seq <= conn.lastSent[symbol] {
				continue
			}

			payload, err := json.Marshal(QuoteMessage{
				Type:   "quote",
				Symbol: symbol,
				Data:   entry.quote,
			})
			if err != nil {
				log.WithError(err).Errorf("failed to encode quote for %s", symbol)
				continue
			}

			conn.lastSent[symbol] = entry.seq
			deliveries = append(deliveries, delivery{connectionID: id, sub: conn.sub, payload: payload})
		}
	}
	h.mu.Unlock()

	var failed []string
	for _, d := range deliveries {
		if err := d.sub.Send(d.payload); err != nil {
			log.WithError(err).Infof("dropping subscriber %s after failed send", d.connectionID)
			failed = append(failed, d.connectionID)
			continue
		}
		metrics.QuotesBroadcastMetrics.Inc()
	}

	for _, id := range failed {
		h.Disconnect(id)
	}
}

func (c *connection) symbolList() []string {
	symbols := make([]string, 0, len(c.symbols))
	for symbol := range c.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
