// Package sim generates a random walk quote stream for development and
// paper deployments without a market data key.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/datasource"
	"github.com/apexhq/apex/pkg/metrics"
	"github.com/apexhq/apex/pkg/types"
)

const SourceName = "sim"

var log = logrus.WithField("source", SourceName)

const (
	defaultTickInterval = 250 * time.Millisecond
	defaultStartPrice   = 100.0

	// per-tick drift bound as a fraction of the current price
	maxStepFraction = 0.002
)

type Source struct {
	interval time.Duration

	mu      sync.Mutex
	prices  map[string]float64
	symbols map[string]struct{}
	cancel  context.CancelFunc

	rnd *rand.Rand

	quoteCallbacks []func(quote types.Quote)
}

var _ datasource.Source = (*Source)(nil)

func New(interval time.Duration) *Source {
	if interval <= 0 {
		interval = defaultTickInterval
	}

	return &Source{
		interval: interval,
		prices:   make(map[string]float64),
		symbols:  make(map[string]struct{}),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) QueryQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	s.mu.Lock()
	quote := s.nextQuote(symbol)
	s.mu.Unlock()

	return &quote, nil
}

// QueryBars synthesizes a random walk history ending at the current price.
func (s *Source) QueryBars(ctx context.Context, symbol, timeframe string, limit int) ([]types.Bar, error) {
	if limit <= 0 {
		limit = 100
	}

	span := time.Minute
	switch timeframe {
	case "5Min", "5min":
		span = 5 * time.Minute
	case "15Min", "15min":
		span = 15 * time.Minute
	case "1H", "1h":
		span = time.Hour
	case "1D", "1d":
		span = 24 * time.Hour
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price := s.price(symbol)
	now := time.Now()

	bars := make([]types.Bar, limit)
	for i := limit - 1; i >= 0; i-- {
		open := price * (1 + (s.rnd.Float64()-0.5)*maxStepFraction)
		high := math.Max(open, price) * (1 + s.rnd.Float64()*maxStepFraction)
		low := math.Min(open, price) * (1 - s.rnd.Float64()*maxStepFraction)

		bars[i] = types.Bar{
			Time:   now.Add(-time.Duration(limit-i) * span),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: int64(s.rnd.Intn(10000) + 100),
		}
		price = open
	}

	return bars, nil
}

func (s *Source) Subscribe(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range symbols {
		if symbol != "" {
			s.symbols[symbol] = struct{}{}
		}
	}
}

func (s *Source) OnQuote(cb func(quote types.Quote)) {
	s.quoteCallbacks = append(s.quoteCallbacks, cb)
}

func (s *Source) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)

	log.Infof("simulated quote stream started, interval %s", s.interval)
	return nil
}

func (s *Source) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.mu.Lock()
			var quotes []types.Quote
			for symbol := range s.symbols {
				quotes = append(quotes, s.nextQuote(symbol))
			}
			callbacks := s.quoteCallbacks
			s.mu.Unlock()

			for _, quote := range quotes {
				metrics.QuotesIngestedMetrics.WithLabelValues(SourceName).Inc()
				for _, cb := range callbacks {
					cb(quote)
				}
			}
		}
	}
}

// price must be called with the lock held.
func (s *Source) price(symbol string) float64 {
	price, ok := s.prices[symbol]
	if !ok {
		price = defaultStartPrice
		s.prices[symbol] = price
	}
	return price
}

// nextQuote advances the walk one step. Must be called with the lock held.
func (s *Source) nextQuote(symbol string) types.Quote {
	price := s.price(symbol)
	price *= 1 + (s.rnd.Float64()*2-1)*maxStepFraction
	price = math.Max(price, 0.01)
	s.prices[symbol] = price

	spread := price * 0.0005
	return types.Quote{
		Symbol:   symbol,
		BidPrice: price - spread,
		BidSize:  float64(s.rnd.Intn(900) + 100),
		AskPrice: price + spread,
		AskSize:  float64(s.rnd.Intn(900) + 100),
		Last:     price,
		Time:     time.Now(),
	}
}

func (s *Source) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
