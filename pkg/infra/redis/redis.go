// Package redis connects to Redis with retry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config contains Redis connection settings.
type Config struct {
	// URL is the connection URL (e.g., "redis://localhost:6379/0").
	URL string `mapstructure:"url" yaml:"url"`
	// Key is the key the ledger snapshot is stored under.
	Key string `mapstructure:"key" yaml:"key"`
	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
	// DialTimeout bounds establishing a connection.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	// ReadTimeout bounds one read.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout bounds one write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// ConnectTimeout bounds the retries of the initial ping. Zero retries for
	// one minute.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Connect creates a client and pings the server until it answers.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*goredis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := goredis.NewClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = time.Minute
	}

	ping := func() error {
		return client.Ping(ctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("redis not ready", zap.String("addr", opts.Addr), zap.Duration("retry_in", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
