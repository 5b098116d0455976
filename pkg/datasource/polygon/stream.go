package polygon

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/apexhq/apex/pkg/metrics"
	"github.com/apexhq/apex/pkg/types"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 2 * time.Minute
)

// Stream maintains the quote websocket. It reconnects with exponential
// backoff, re-authenticates and replays the subscription set after every
// reconnect.
type Stream struct {
	url    string
	apiKey string

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
	closed  bool

	quoteCallbacks []func(quote types.Quote)
}

func NewStream(wsURL, apiKey string) *Stream {
	return &Stream{
		url:     wsURL,
		apiKey:  apiKey,
		symbols: make(map[string]struct{}),
	}
}

func (s *Stream) OnQuote(cb func(quote types.Quote)) {
	s.quoteCallbacks = append(s.quoteCallbacks, cb)
}

func (s *Stream) emitQuote(quote types.Quote) {
	for _, cb := range s.quoteCallbacks {
		cb(quote)
	}
}

// Subscribe adds symbols and, when already connected, sends the subscribe
// frame immediately.
func (s *Stream) Subscribe(symbols ...string) {
	s.mu.Lock()
	for _, symbol := range symbols {
		s.symbols[symbol] = struct{}{}
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.sendSubscribe(conn, symbols); err != nil {
			log.WithError(err).Warn("failed to send subscribe frame")
		}
	}
}

type controlMessage struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	topics := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		topics = append(topics, "Q."+symbol)
	}

	return conn.WriteJSON(controlMessage{Action: "subscribe", Params: strings.Join(topics, ",")})
}

// Connect dials the stream and spawns the reader. It returns after the
// first successful dial; subsequent reconnects are handled internally.
func (s *Stream) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	go s.read(ctx, conn)
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	op := func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.WithError(err).Warnf("failed to dial %s", s.url)
			return err
		}

		if err := conn.WriteJSON(controlMessage{Action: "auth", Params: s.apiKey}); err != nil {
			_ = conn.Close()
			return err
		}

		s.mu.Lock()
		symbols := make([]string, 0, len(s.symbols))
		for symbol := range s.symbols {
			symbols = append(symbols, symbol)
		}
		s.conn = conn
		s.mu.Unlock()

		return s.sendSubscribe(conn, symbols)
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	log.Infof("connected to %s", s.url)
	return conn, nil
}

type wireEvent struct {
	Event     string  `json:"ev"`
	Symbol    string  `json:"sym"`
	BidPrice  float64 `json:"bp"`
	BidSize   float64 `json:"bs"`
	AskPrice  float64 `json:"ap"`
	AskSize   float64 `json:"as"`
	Timestamp int64   `json:"t"`
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) {
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				s.mu.Lock()
				current := s.conn
				s.mu.Unlock()
				if current != nil {
					_ = current.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil || s.isClosed() {
			_ = conn.Close()
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil || s.isClosed() {
				return
			}

			log.WithError(err).Warn("read error, reconnecting")
			conn, err = s.dial(ctx)
			if err != nil {
				return
			}
			continue
		}

		var events []wireEvent
		if err := json.Unmarshal(payload, &events); err != nil {
			// status frames arrive as arrays too; anything else is ignored
			continue
		}

		for _, event := range events {
			if event.Event != "Q" {
				continue
			}

			quote := types.Quote{
				Symbol:   event.Symbol,
				BidPrice: event.BidPrice,
				BidSize:  event.BidSize,
				AskPrice: event.AskPrice,
				AskSize:  event.AskSize,
				Last:     (event.BidPrice + event.AskPrice) / 2,
				Time:     time.UnixMilli(event.Timestamp),
			}

			metrics.QuotesIngestedMetrics.WithLabelValues(SourceName).Inc()
			s.emitQuote(quote)
		}
	}
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
