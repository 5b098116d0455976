package metrics

import "github.com/prometheus/client_golang/prometheus"

var OrdersPlacedMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apex_orders_placed_total",
		Help: "Number of orders accepted by the broker",
	},
	[]string{"broker"},
)

var OrdersRejectedMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apex_orders_rejected_total",
		Help: "Number of orders rejected before or by the broker",
	},
	[]string{"broker", "reason"},
)

var FillsAppliedMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apex_fills_applied_total",
		Help: "Number of fill events applied to positions",
	},
	[]string{"broker"},
)

var QuotesIngestedMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apex_quotes_ingested_total",
		Help: "Number of quotes ingested from the market data source",
	},
	[]string{"source"},
)

var QuotesBroadcastMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "apex_quotes_broadcast_total",
		Help: "Number of quote messages pushed to websocket subscribers",
	},
)

var ConnectionsMetrics = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "apex_ws_connections",
		Help: "Number of live websocket connections per channel",
	},
	[]string{"channel"},
)

var OrdersArchivedMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "apex_orders_archived_total",
		Help: "Number of terminal orders written to the archive database",
	},
)

func init() {
	prometheus.MustRegister(
		OrdersPlacedMetrics,
		OrdersRejectedMetrics,
		FillsAppliedMetrics,
		QuotesIngestedMetrics,
		QuotesBroadcastMetrics,
		ConnectionsMetrics,
		OrdersArchivedMetrics,
	)
}
