// Package server exposes a read-only admin HTTP API over the trading state.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
)

// PendingSource lists the limit buys awaiting fill.
type PendingSource interface {
	Orders() []domain.Order
}

// ExitsSource lists the exit groups resting on the book.
type ExitsSource interface {
	Type() domain.MarketType
	OpenExits(ctx context.Context, symbol string) ([]domain.OcoGroup, error)
}

// Config holds configuration for the admin server.
type Config struct {
	// Port is the TCP port to listen on.
	Port int
	// ReadTimeout bounds reading a request.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration
	// Pending is the pending order ledger.
	Pending PendingSource
	// Exits is the market adapter.
	Exits ExitsSource
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Server is the admin HTTP server.
type Server struct {
	engine  *gin.Engine
	http    *http.Server
	pending PendingSource
	exits   ExitsSource
	logger  *zap.Logger
}

// New creates the server and registers its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))

	s := &Server{
		engine:  engine,
		pending: cfg.Pending,
		exits:   cfg.Exits,
		logger:  logger,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	engine.GET("/healthz", s.health)
	v1 := engine.Group("/api/v1")
	v1.GET("/pending", s.listPending)
	v1.GET("/exits/:symbol", s.listExits)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"market":  s.exits.Type(),
		"pending": len(s.pending.Orders()),
	})
}

func (s *Server) listPending(c *gin.Context) {
	orders := s.pending.Orders()
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listExits(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	groups, err := s.exits.OpenExits(c.Request.Context(), symbol)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, exchange.ErrPairNotSupported) {
			status = http.StatusNotFound
		}
		s.logger.Warn("open exits", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if groups == nil {
		groups = []domain.OcoGroup{}
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "groups": groups})
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
