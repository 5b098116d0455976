// Package broker selects the active brokerage backend for the process.
package broker

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/broker/alpaca"
	"github.com/apexhq/apex/pkg/broker/ibkr"
	"github.com/apexhq/apex/pkg/broker/paper"
	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("component", "broker")

type Config struct {
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string

	IBGatewayURL string
	IBAccountID  string

	PaperDefaultPrice  float64
	PaperAutoFillDelay time.Duration
}

// New picks the active broker by credential precedence: the first backend
// with valid credentials wins, and the paper simulator is the fallback.
// The choice is fixed for the process lifetime; there is no mid-session
// failover.
func New(cfg Config) types.Broker {
	if cfg.AlpacaAPIKey != "" && cfg.AlpacaAPISecret != "" {
		log.Infof("using alpaca broker at %s", cfg.AlpacaBaseURL)
		return alpaca.New(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaBaseURL)
	}

	if cfg.IBGatewayURL != "" && cfg.IBAccountID != "" {
		log.Infof("using interactive brokers gateway at %s", cfg.IBGatewayURL)
		return ibkr.New(cfg.IBGatewayURL, cfg.IBAccountID)
	}

	log.Info("no broker credentials configured, falling back to the paper simulator")
	return paper.New(cfg.PaperDefaultPrice, cfg.PaperAutoFillDelay)
}
