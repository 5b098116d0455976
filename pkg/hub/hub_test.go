package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/pkg/types"
)

type fakeSubscriber struct {
	id   string
	fail bool

	mu       sync.Mutex
	received [][]byte
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(payload []byte) error {
	if s.fail {
		return errors.New("send buffer full")
	}

	s.mu.Lock()
	s.received = append(s.received, payload)
	s.mu.Unlock()
	return nil
}

func (s *fakeSubscriber) messages(t *testing.T) []QuoteMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []QuoteMessage
	for _, payload := range s.received {
		var msg QuoteMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func quote(symbol string, last float64) types.Quote {
	return types.Quote{
		Symbol:   symbol,
		BidPrice: last - 0.01,
		AskPrice: last + 0.01,
		Last:     last,
		Time:     time.Now(),
	}
}

func TestHub_SubscribeAck(t *testing.T) {
	h := New(time.Hour)
	sub := &fakeSubscriber{id: "c1"}

	symbols := h.Subscribe(sub, types.MarketDataChannel, []string{"MSFT", "AAPL"})
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	symbols = h.Subscribe(sub, types.MarketDataChannel, []string{"TSLA"})
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, symbols, "subscriptions accumulate")

	symbols = h.Unsubscribe("c1", []string{"AAPL"})
	assert.Equal(t, []string{"MSFT", "TSLA"}, symbols)
}

func TestHub_BroadcastDeliversLatest(t *testing.T) {
	h := New(time.Hour)
	sub := &fakeSubscriber{id: "c1"}
	h.Subscribe(sub, types.MarketDataChannel, []string{"AAPL"})

	// three rapid ticks within one broadcast interval
	h.Ingest(quote("AAPL", 150))
	h.Ingest(quote("AAPL", 151))
	h.Ingest(quote("AAPL", 152))

	h.broadcast()

	msgs := sub.messages(t)
	require.Len(t, msgs, 1, "ticks inside one interval coalesce to the latest")
	assert.Equal(t, "quote", msgs[0].Type)
	assert.Equal(t, "AAPL", msgs[0].Symbol)
	assert.Equal(t, 152.0, msgs[0].Data.Last)
}

func TestHub_BroadcastSkipsUnchanged(t *testing.T) {
	h := New(time.Hour)
	sub := &fakeSubscriber{id: "c1"}
	h.Subscribe(sub, types.MarketDataChannel, []string{"AAPL"})

	h.Ingest(quote("AAPL", 150))
	h.broadcast()
	h.broadcast()

	assert.Len(t, sub.messages(t), 1, "no new tick means no resend")
}

func TestHub_BroadcastOnlySubscribedSymbols(t *testing.T) {
	h := New(time.Hour)
	sub := &fakeSubscriber{id: "c1"}
	h.Subscribe(sub, types.MarketDataChannel, []string{"AAPL"})

	h.Ingest(quote("MSFT", 400))
	h.broadcast()

	assert.Empty(t, sub.messages(t))
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := New(time.Hour)
	sub := &fakeSubscriber{id: "c1"}
	h.Subscribe(sub, types.MarketDataChannel, []string{"AAPL"})

	h.Ingest(quote("AAPL", 150))
	h.broadcast()
	require.Len(t, sub.messages(t), 1)

	h.Unsubscribe("c1", []string{"AAPL"})
	h.Ingest(quote("AAPL", 151))
	h.broadcast()

	assert.Len(t, sub.messages(t), 1, "no pushes after unsubscribe")
}

func TestHub_FailedSendDisconnects(t *testing.T) {
	h := New(time.Hour)
	bad := &fakeSubscriber{id: "bad", fail: true}
	good := &fakeSubscriber{id: "good"}
	h.Subscribe(bad, types.MarketDataChannel, []string{"AAPL"})
	h.Subscribe(good, types.MarketDataChannel, []string{"AAPL"})

	var dropped []string
	h.OnDisconnect(func(id string) { dropped = append(dropped, id) })

	h.Ingest(quote("AAPL", 150))
	h.broadcast()

	assert.Equal(t, []string{"bad"}, dropped)
	assert.Len(t, good.messages(t), 1, "healthy subscribers are unaffected")

	// the dropped connection receives nothing further
	h.Ingest(quote("AAPL", 151))
	h.broadcast()
	assert.Len(t, good.messages(t), 2)
}

func TestHub_OnQuoteCallback(t *testing.T) {
	h := New(time.Hour)

	var seen []types.Quote
	h.OnQuote(func(q types.Quote) { seen = append(seen, q) })

	h.Ingest(quote("AAPL", 150))

	require.Len(t, seen, 1)
	assert.Equal(t, 150.0, seen[0].Last)

	latest, ok := h.LatestQuote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 150.0, latest.Last)
}

func TestHub_RunCancel(t *testing.T) {
	h := New(time.Millisecond)
	sub := &fakeSubscriber{id: "c1"}
	h.Subscribe(sub, types.MarketDataChannel, []string{"AAPL"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.Ingest(quote("AAPL", 150))

	assert.Eventually(t, func() bool {
		return len(sub.messages(t)) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast loop did not stop on context cancel")
	}
}
