package cmd

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	_ "github.com/go-sql-driver/mysql"
)

var RootCmd = &cobra.Command{
	Use:   "apex",
	Short: "apex trading gateway",
	Long:  "order routing and market data gateway for retail brokerage accounts",

	SilenceUsage: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	RootCmd.PersistentFlags().Bool("debug", false, "debug flag")
	RootCmd.PersistentFlags().String("dotenv", ".env", "dotenv file to load before reading the environment")

	RootCmd.PersistentFlags().String("alpaca-api-key", "", "alpaca api key")
	RootCmd.PersistentFlags().String("alpaca-api-secret", "", "alpaca api secret")

	RootCmd.PersistentFlags().String("ib-gateway-url", "", "interactive brokers client portal gateway url")
	RootCmd.PersistentFlags().String("ib-account-id", "", "interactive brokers account id")

	RootCmd.PersistentFlags().String("polygon-api-key", "", "polygon.io api key")
}

func Execute() {
	if dotenvFile, err := RootCmd.PersistentFlags().GetString("dotenv"); err == nil && dotenvFile != "" {
		if err := godotenv.Load(dotenvFile); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("failed to load %s", dotenvFile)
		}
	}

	viper.SetEnvPrefix("apex")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(RootCmd.PersistentFlags()); err != nil {
		log.WithError(err).Errorf("failed to bind persistent flags. please check the flag settings.")
	}

	log.SetFormatter(&prefixed.TextFormatter{})

	logger := log.StandardLogger()
	if viper.GetBool("debug") {
		logger.SetLevel(log.DebugLevel)
	}

	environment := os.Getenv("APEX_ENV")
	switch environment {
	case "production", "prod":
		writer, err := rotatelogs.New(
			path.Join("log", "access_log.%Y%m%d"),
			rotatelogs.WithLinkName("access_log"),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			log.Panic(err)
		}
		logger.AddHook(
			lfshook.NewHook(
				lfshook.WriterMap{
					log.DebugLevel: writer,
					log.InfoLevel:  writer,
					log.WarnLevel:  writer,
					log.ErrorLevel: writer,
					log.FatalLevel: writer,
				},
				&log.JSONFormatter{},
			),
		)
	}

	if err := RootCmd.Execute(); err != nil {
		log.WithError(err).Fatalf("cannot execute command")
	}
}
