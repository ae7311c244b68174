// Package postgres opens gorm connections to PostgreSQL with optional read
// replicas.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	pg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

// Config contains PostgreSQL connection settings.
type Config struct {
	// DataSource is the primary DSN.
	DataSource string `mapstructure:"data_source" yaml:"data_source"`
	// Replicas are DSNs of read replicas.
	Replicas []string `mapstructure:"replicas" yaml:"replicas"`
	// MaxOpenConns limits open connections.
	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	// MaxIdleConns limits idle connections.
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	// ConnMaxLifetime recycles connections after this duration.
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// Handle names the ledger snapshot row.
	Handle string `mapstructure:"handle" yaml:"handle"`
	// ConnectTimeout bounds the connection retries. Zero retries for one minute.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Open connects to the primary and registers the replicas, retrying until
// the database answers.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	replicas := make([]gorm.Dialector, 0, len(cfg.Replicas))
	for _, dsn := range cfg.Replicas {
		replicas = append(replicas, pg.Open(dsn))
	}
	return OpenDialector(ctx, pg.Open(cfg.DataSource), replicas, cfg, logger)
}

// OpenDialector is Open with explicit dialectors.
func OpenDialector(ctx context.Context, primary gorm.Dialector, replicas []gorm.Dialector, cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = time.Minute
	}

	var db *gorm.DB
	connect := func() error {
		var err error
		db, err = open(ctx, primary, replicas, cfg, logger)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready", zap.Duration("retry_in", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	logger.Info("connected to database", zap.Int("replicas", len(replicas)))
	return db, nil
}

func open(ctx context.Context, primary gorm.Dialector, replicas []gorm.Dialector, cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(primary, &gorm.Config{
		Logger: gormlogger.New(zapWriter{logger.Sugar()}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	if len(replicas) > 0 {
		if err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		})); err != nil {
			return nil, fmt.Errorf("register replicas: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// zapWriter routes gorm log lines to zap.
type zapWriter struct {
	logger *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Warnf(format, args...)
}
