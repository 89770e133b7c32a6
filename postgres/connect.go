package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/jinzhu/gorm"
	"github.com/lib/pq"
	"github.com/public-forge/go-pg-sidecart/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

// Opener establishes the driver-level pool and verifies it is reachable.
type Opener func(ctx context.Context, cfg *PgConfig) (*sql.DB, error)

// Open connects to PostgreSQL with lib/pq. It makes a single attempt bounded
// by cfg.ConnectTimeout; restarting the process is left to the orchestrator.
//
// lib/pq has no allow or prefer sslmode, so they are resolved here: prefer
// tries an SSL connection and falls back to plaintext when the server turns
// SSL down, allow does the reverse. The pool keeps the mode that worked.
func Open(ctx context.Context, cfg *PgConfig) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	var err error
	for _, mode := range sslAttempts(cfg.SSLMode) {
		var db *sql.DB
		if db, err = openWithSSLMode(ctx, cfg, mode); err == nil {
			return db, nil
		}
		if !sslRefused(err) {
			return nil, err
		}
	}
	return nil, err
}

// openWithSSLMode opens a pool for cfg with sslmode replaced by mode and pings it.
func openWithSSLMode(ctx context.Context, cfg *PgConfig, mode string) (*sql.DB, error) {
	attempt := *cfg
	attempt.SSLMode = mode

	db, err := sql.Open("postgres", attempt.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sslAttempts lists the sslmode values to try, in order, for the configured one.
func sslAttempts(mode string) []string {
	switch config.SSLMode(mode) {
	case config.SSLPrefer:
		return []string{string(config.SSLRequire), string(config.SSLDisable)}
	case config.SSLAllow:
		return []string{string(config.SSLDisable), string(config.SSLRequire)}
	}
	return []string{mode}
}

// sslRefused reports whether the server rejected the connection because of its
// encryption: it does not speak SSL, or pg_hba.conf has no entry for this one.
func sslRefused(err error) bool {
	if errors.Is(err, pq.ErrSSLNotSupported) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "28"
}

// setSQLSettings applies the pool bounds and connection lifetime.
func setSQLSettings(db *sql.DB, cfg *PgConfig) {
	db.SetMaxOpenConns(cfg.maxConnections())
	db.SetMaxIdleConns(cfg.maxConnections())
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)
}

// setGORMSettings routes gorm's own messages to logger and enables its detailed
// log mode only when debug output is on.
func setGORMSettings(db *gorm.DB, logger *zap.Logger) {
	db.SetLogger(gormLogger{logger: logger})
	db.LogMode(logger.Core().Enabled(zapcore.DebugLevel))
}

// gormLogger adapts zap to gorm's Print-style logger. gorm hands it the kind
// ("sql", "log" or "error"), the caller and then the payload.
type gormLogger struct {
	logger *zap.Logger
}

// Print writes one gorm message at debug level; failures are also returned to
// and logged by the caller.
func (g gormLogger) Print(values ...interface{}) {
	if len(values) < 2 {
		g.logger.Debug(fmt.Sprint(values...))
		return
	}
	g.logger.Debug("gorm",
		zap.Any("kind", values[0]),
		zap.Any("source", values[1]),
		zap.String("detail", fmt.Sprint(values[2:]...)))
}

// warm opens n connections up front and parks them in the idle set.
func warm(ctx context.Context, db *sql.DB, n int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
	}
	return nil
}
