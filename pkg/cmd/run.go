package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apexhq/apex/pkg/broker"
	"github.com/apexhq/apex/pkg/broker/paper"
	"github.com/apexhq/apex/pkg/config"
	"github.com/apexhq/apex/pkg/datasource"
	"github.com/apexhq/apex/pkg/datasource/polygon"
	"github.com/apexhq/apex/pkg/datasource/sim"
	"github.com/apexhq/apex/pkg/hub"
	"github.com/apexhq/apex/pkg/ledger"
	"github.com/apexhq/apex/pkg/router"
	"github.com/apexhq/apex/pkg/server"
	"github.com/apexhq/apex/pkg/service"
	"github.com/apexhq/apex/pkg/types"
)

// archiveRetention bounds how long terminal orders stay in MySQL.
const archiveRetention = 30 * 24 * time.Hour

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "start the trading gateway",

	SilenceUsage: true,
	RunE:         run,
}

func init() {
	RunCmd.Flags().String("bind", "", "server bind address, e.g. :8000")
	RootCmd.AddCommand(RunCmd)
}

func run(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	if bind, err := cmd.Flags().GetString("bind"); err == nil && bind != "" {
		settings.BindAddress = bind
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	activeBroker := broker.New(broker.Config{
		AlpacaAPIKey:    settings.AlpacaAPIKey,
		AlpacaAPISecret: settings.AlpacaAPISecret,
		AlpacaBaseURL:   settings.AlpacaBaseURL,

		IBGatewayURL: settings.IBGatewayURL,
		IBAccountID:  settings.IBAccountID,

		PaperDefaultPrice:  settings.PaperDefaultPrice,
		PaperAutoFillDelay: settings.PaperAutoFillDelay,
	})

	orderRouter := router.New(activeBroker, 10*time.Second)
	positions := ledger.New()
	orderRouter.OnFill(positions.ApplyFill)

	quoteHub := hub.New(settings.BroadcastInterval)
	quoteHub.OnQuote(func(quote types.Quote) {
		price := quote.ReferencePrice()
		positions.MarkPrice(quote.Symbol, price, quote.Time)
		if simBroker, ok := activeBroker.(*paper.Simulator); ok {
			simBroker.MarkPrice(quote.Symbol, price)
		}
	})

	var source datasource.Source
	if settings.PolygonAPIKey != "" {
		source = polygon.New(settings.PolygonAPIKey)
	} else {
		log.Info("no market data key configured, using the simulated quote stream")
		source = sim.New(0)
	}
	source.OnQuote(quoteHub.Ingest)

	if activeBroker.Name() != paper.BrokerName {
		if brokerPositions, err := activeBroker.QueryPositions(ctx); err != nil {
			log.WithError(err).Warn("failed to seed positions from the broker")
		} else {
			positions.Seed("default", brokerPositions)
		}
	}

	scheduler := cron.New()

	var archive *service.OrderArchiveService
	if settings.ArchiveDSN != "" {
		db, err := sqlx.Connect("mysql", settings.ArchiveDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		archive = service.NewOrderArchiveService(db)
		if err := archive.Migrate(); err != nil {
			return err
		}
		if err := archive.ScheduleRetention(scheduler, archiveRetention); err != nil {
			return err
		}
		log.Info("order archive enabled")
	}

	scheduler.Start()
	defer scheduler.Stop()

	if err := source.Connect(ctx); err != nil {
		return err
	}
	defer source.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		quoteHub.Run(ctx)
		return nil
	})

	if activeBroker.Name() != paper.BrokerName {
		g.Go(func() error {
			orderRouter.RunReconciler(ctx, settings.ReconcileInterval)
			return nil
		})
	}

	g.Go(func() error {
		sweepOrders(ctx, orderRouter, archive, settings.OrderRetention)
		return nil
	})

	srv := &server.Server{
		Router: orderRouter,
		Ledger: positions,
		Hub:    quoteHub,
		Source: source,

		CORSOrigins: settings.CORSOrigins,
		Debug:       settings.DebugMode,
	}

	g.Go(func() error {
		return srv.Run(ctx, settings.BindAddress)
	})

	return g.Wait()
}

// sweepOrders periodically archives terminal orders and evicts those past
// the in-memory retention window.
func sweepOrders(ctx context.Context, orderRouter *router.Router, archive *service.OrderArchiveService, retention time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if archive != nil {
				for _, order := range orderRouter.Snapshot() {
					if !order.Status.Terminal() {
						continue
					}
					if err := archive.Archive(order); err != nil {
						log.WithError(err).Warnf("failed to archive order %s", order.OrderID)
					}
				}
			}

			orderRouter.EvictTerminalBefore(time.Now().Add(-retention))
		}
	}
}
