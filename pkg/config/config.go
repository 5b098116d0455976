// Package config loads runtime settings from the environment, with an
// optional .env file for development.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Settings struct {
	BindAddress string

	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string

	IBGatewayURL string
	IBAccountID  string

	PolygonAPIKey string

	PaperDefaultPrice  float64
	PaperAutoFillDelay time.Duration

	BroadcastInterval time.Duration
	ReconcileInterval time.Duration

	// OrderRetention bounds how long terminal orders stay in memory.
	OrderRetention time.Duration

	// ArchiveDSN enables the MySQL order archive when set.
	ArchiveDSN string

	CORSOrigins []string

	DebugMode bool
}

func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("apex")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind", ":8000")
	v.SetDefault("alpaca.base.url", "https://paper-api.alpaca.markets")
	v.SetDefault("ib.gateway.url", "")
	v.SetDefault("ib.account.id", "")
	v.SetDefault("paper.default.price", 100.0)
	v.SetDefault("paper.auto.fill.delay", time.Duration(0))
	v.SetDefault("broadcast.interval", 100*time.Millisecond)
	v.SetDefault("reconcile.interval", 30*time.Second)
	v.SetDefault("order.retention", 24*time.Hour)
	v.SetDefault("cors.origins", "*")
	v.SetDefault("debug", false)

	settings := &Settings{
		BindAddress: v.GetString("bind"),

		AlpacaAPIKey:    v.GetString("alpaca.api.key"),
		AlpacaAPISecret: v.GetString("alpaca.api.secret"),
		AlpacaBaseURL:   v.GetString("alpaca.base.url"),

		IBGatewayURL: v.GetString("ib.gateway.url"),
		IBAccountID:  v.GetString("ib.account.id"),

		PolygonAPIKey: v.GetString("polygon.api.key"),

		PaperDefaultPrice:  v.GetFloat64("paper.default.price"),
		PaperAutoFillDelay: v.GetDuration("paper.auto.fill.delay"),

		BroadcastInterval: v.GetDuration("broadcast.interval"),
		ReconcileInterval: v.GetDuration("reconcile.interval"),
		OrderRetention:    v.GetDuration("order.retention"),

		ArchiveDSN: v.GetString("archive.dsn"),

		CORSOrigins: strings.Split(v.GetString("cors.origins"), ","),

		DebugMode: v.GetBool("debug"),
	}

	return settings, nil
}
