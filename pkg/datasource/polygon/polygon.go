// Package polygon implements the market data source on the Polygon.io REST
// and websocket APIs.
package polygon

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/datasource"
	"github.com/apexhq/apex/pkg/types"
)

const SourceName = "polygon"

var log = logrus.WithField("source", SourceName)

type Source struct {
	client *RestClient
	stream *Stream

	mu      sync.Mutex
	symbols map[string]struct{}
}

var _ datasource.Source = (*Source)(nil)

func New(apiKey string) *Source {
	s := &Source{
		client:  NewRestClient(RestBaseURL, apiKey),
		symbols: make(map[string]struct{}),
	}
	s.stream = NewStream(WebsocketBaseURL, apiKey)
	return s
}

func (s *Source) Name() string {
	return SourceName
}

type nbboResult struct {
	Results struct {
		BidPrice  float64 `json:"p"`
		BidSize   float64 `json:"s"`
		AskPrice  float64 `json:"P"`
		AskSize   float64 `json:"S"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
}

func (s *Source) QueryQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	var result nbboResult
	if err := s.client.get(ctx, "/v2/last/nbbo/"+symbol, nil, &result); err != nil {
		return nil, err
	}

	quote := types.Quote{
		Symbol:   symbol,
		BidPrice: result.Results.BidPrice,
		BidSize:  result.Results.BidSize,
		AskPrice: result.Results.AskPrice,
		AskSize:  result.Results.AskSize,
		Time:     time.Unix(0, result.Results.Timestamp),
	}
	quote.Last = (quote.BidPrice + quote.AskPrice) / 2

	return &quote, nil
}

type aggsResult struct {
	Results []struct {
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
}

// timeframe is "1Min", "5Min", "15Min", "1H" or "1D".
func (s *Source) QueryBars(ctx context.Context, symbol, timeframe string, limit int) ([]types.Bar, error) {
	multiplier, timespan, barSpan, err := parseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	to := time.Now()
	from := to.Add(-time.Duration(limit) * barSpan)

	refURL := "/v2/aggs/ticker/" + symbol + "/range/" + strconv.Itoa(multiplier) + "/" + timespan +
		"/" + strconv.FormatInt(from.UnixMilli(), 10) + "/" + strconv.FormatInt(to.UnixMilli(), 10)

	params := url.Values{}
	params.Set("sort", "asc")
	params.Set("limit", strconv.Itoa(limit))

	var result aggsResult
	if err := s.client.get(ctx, refURL, params, &result); err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(result.Results))
	for _, agg := range result.Results {
		bars = append(bars, types.Bar{
			Time:   time.UnixMilli(agg.Timestamp),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: int64(agg.Volume),
		})
	}

	return bars, nil
}

func parseTimeframe(timeframe string) (multiplier int, timespan string, barSpan time.Duration, err error) {
	switch strings.ToLower(timeframe) {
	case "", "1min":
		return 1, "minute", time.Minute, nil
	case "5min":
		return 5, "minute", 5 * time.Minute, nil
	case "15min":
		return 15, "minute", 15 * time.Minute, nil
	case "1h":
		return 1, "hour", time.Hour, nil
	case "1d":
		return 1, "day", 24 * time.Hour, nil
	}

	return 0, "", 0, errors.Wrapf(types.ErrInvalidRequest, "unsupported timeframe %q", timeframe)
}

func (s *Source) Subscribe(symbols ...string) {
	s.mu.Lock()
	for _, symbol := range symbols {
		s.symbols[symbol] = struct{}{}
	}
	s.mu.Unlock()

	s.stream.Subscribe(symbols...)
}

func (s *Source) OnQuote(cb func(quote types.Quote)) {
	s.stream.OnQuote(cb)
}

func (s *Source) Connect(ctx context.Context) error {
	return s.stream.Connect(ctx)
}

func (s *Source) Close() error {
	return s.stream.Close()
}
