// Package main is the entry point for the signal trader.
// It loads configuration, builds the application and runs it until SIGINT or SIGTERM.
//
// Usage:
//
//	signaltrader --config configs/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"signaltrader/internal/app"
	"signaltrader/pkg/config"
)

// configPath is the path to the YAML configuration file.
var configPath string

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	} else {
		log.Println(".env file loaded successfully")
	}
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if dump, err := cfg.Redacted().YAML(); err == nil {
		logger.Debug("configuration loaded\n" + dump)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("signaltrader stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("market", cfg.Trading.MarketType))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
	}()

	return a.Run(ctx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.App.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.App.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log_level: %w", err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(cfg.App.Name), nil
}
