package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gabihodoroga/email-batch-tracker/config"
	"github.com/gabihodoroga/email-batch-tracker/server"
)

func main() {
	if err := config.Setup(); err != nil {
		fmt.Printf("main: error initializing config %v\n", err)
		os.Exit(1)
	}

	logger, loggerLevel, err := initLogger()
	if err != nil {
		fmt.Printf("main: error initializing logger %v\n", err)
		os.Exit(1)
	}

	cfg := config.GetConfig()
	logger.Info("main: start",
		zap.Bool("webhook_signed", cfg.WebhookSecret != ""),
		zap.Bool("pubsub_ingress", cfg.PubsubEnabled()),
		zap.Bool("bigquery_archive", cfg.BigQueryEnabled()))
	server.Start(logger, loggerLevel)
}


func initLogger() (*zap.Logger, zap.AtomicLevel, error) {
	loggerConfig := zap.NewProductionConfig()

	loggerConfig.Level.SetLevel(resolveLogLevel())
	loggerConfig.EncoderConfig.LevelKey = "severity"
	loggerConfig.EncoderConfig.MessageKey = "message"
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	zap.ReplaceGlobals(logger)
	return logger, loggerConfig.Level, nil
}

func resolveLogLevel() zapcore.Level {
	if config.GetConfig().LogLevel != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(config.GetConfig().LogLevel)); err != nil {
			return zap.InfoLevel
		}
		return l
	}
	return zap.InfoLevel
}
