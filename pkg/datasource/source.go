// Package datasource defines the market data backend interface. A source
// answers snapshot queries over REST and streams quotes for subscribed
// symbols into the hub.
package datasource

import (
	"context"

	"github.com/apexhq/apex/pkg/types"
)

type Source interface {
	Name() string

	// QueryQuote returns a point-in-time quote snapshot.
	QueryQuote(ctx context.Context, symbol string) (*types.Quote, error)

	// QueryBars returns up to limit historical bars for the timeframe,
	// oldest first.
	QueryBars(ctx context.Context, symbol, timeframe string, limit int) ([]types.Bar, error)

	// Subscribe adds symbols to the streaming set. Effective immediately
	// when connected, otherwise on the next Connect.
	Subscribe(symbols ...string)

	// OnQuote registers a callback for streamed quotes. Register before
	// Connect.
	OnQuote(cb func(quote types.Quote))

	// Connect starts the stream and keeps it alive until the context is
	// done or Close is called.
	Connect(ctx context.Context) error

	Close() error
}
