// Package sidecart drives the read-only database sidecar: connect, verify,
// run the demonstration queries, then idle until cancelled.
package sidecart

import (
	"context"
	"errors"
	"github.com/public-forge/go-pg-sidecart/config"
	"github.com/public-forge/go-pg-sidecart/postgres"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"time"
)

const defaultHeartbeat = 30 * time.Second

// Exit codes returned by ExitCode.
const (
	ExitOK            = 0
	ExitUnavailable   = 1
	ExitConfiguration = 2
)

// App sequences the sidecar lifecycle around a postgres.Manager.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *postgres.Manager
	metrics *Metrics
}

// New creates an App. db must not be initialized yet; Run owns its lifecycle.
func New(cfg *config.Config, logger *zap.Logger, db *postgres.Manager) *App {
	return &App{cfg: cfg, logger: logger, db: db, metrics: NewMetrics()}
}

// Run initializes the pool, tests connectivity, runs the demonstration queries
// and then blocks until ctx is cancelled. The pool is always shut down before
// Run returns. A nil error means a clean run.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("initializing sidecart",
		zap.String("env", a.cfg.Env),
		zap.String("host", a.cfg.DB.Host),
		zap.Int("port", a.cfg.DB.Port),
		zap.String("database", a.cfg.DB.Database))

	if err := a.db.Initialize(ctx); err != nil {
		a.logger.Error("failed to initialize sidecart", zap.Error(err))
		return err
	}
	defer a.shutdown()

	if err := a.db.TestConnection(ctx); err != nil {
		a.logger.Error("failed to initialize sidecart", zap.Error(err))
		return err
	}
	if err := a.metrics.RegisterPool(a.db.DB(), a.cfg.DB.Database); err != nil {
		a.logger.Warn("pool metrics unavailable", zap.Error(err))
	}
	a.logger.Info("sidecart initialized successfully")

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.HTTPAddr != "" {
		g.Go(func() error {
			return serve(gctx, a.cfg.HTTPAddr, NewRouter(a.db, a.metrics, a.logger), a.logger)
		})
	}
	g.Go(func() error {
		outcomes := NewDemo(a.db, a.logger, a.metrics, a.cfg.DB.Schema, a.cfg.SampleRowLimit).Run(gctx)
		if err := Failed(outcomes); err != nil {
			a.logger.Warn("some demonstration queries failed",
				zap.Int("queries", len(outcomes)), zap.Error(err))
		} else {
			a.logger.Info("demonstration queries finished", zap.Int("queries", len(outcomes)))
		}
		return a.wait(gctx)
	})
	return g.Wait()
}

// wait blocks until ctx is done, logging a heartbeat with pool counters.
func (a *App) wait(ctx context.Context) error {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("sidecart is running, waiting for a termination signal")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("termination requested")
			return nil
		case <-ticker.C:
			stats := a.db.Stats()
			a.logger.Info("sidecart is running",
				zap.Int("open", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle))
		}
	}
}

// shutdown failures are logged and never change the run's result.
func (a *App) shutdown() {
	a.logger.Info("shutting down sidecart")
	if err := a.db.Shutdown(); err != nil {
		a.logger.Error("shutdown failed", zap.Error(err))
	}
	a.logger.Info("sidecart shutdown complete")
}

// ExitCode maps the outcome of loading the configuration or of Run onto a
// process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfiguration
	}
	return ExitUnavailable
}
