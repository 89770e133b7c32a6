// Package postgres owns the PostgreSQL connection pool used by the sidecar.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/jinzhu/gorm"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"sync"
)

// state is the Manager lifecycle stage.
type state int

const (
	stateNew state = iota
	stateReady
	stateClosed
)

// Manager wraps a bounded gorm/database-sql pool with an explicit lifecycle:
// NewManager, Initialize, use, Shutdown. It is safe for concurrent use.
type Manager struct {
	cfg    *PgConfig
	logger *zap.Logger
	open   Opener

	mu    sync.RWMutex
	db    *gorm.DB
	state state
}

// Option customizes a Manager.
type Option func(*Manager)

// WithOpener replaces the lib/pq opener, e.g. with a sqlmock connection.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// NewManager creates a Manager. No connection is made until Initialize.
func NewManager(cfg *PgConfig, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger.Named("postgres"), open: Open}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize opens the pool, verifies connectivity within the connect timeout
// and eagerly opens the configured minimum of connections. Calling it again
// returns ErrAlreadyInitialized; calling it after Shutdown returns ErrClosed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateClosed:
		return ErrClosed
	}

	m.logger.Info("connecting to postgres",
		zap.String("dsn", m.cfg.Redacted()),
		zap.Duration("timeout", m.cfg.timeout()))

	sqlDB, err := m.open(ctx, m.cfg)
	if err != nil {
		return m.unreachable(err)
	}

	db, err := gorm.Open("postgres", sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return m.unreachable(err)
	}
	setSQLSettings(db.DB(), m.cfg)
	setGORMSettings(db, m.logger)

	if err := warm(ctx, db.DB(), m.cfg.minConnections(), m.cfg.timeout()); err != nil {
		_ = db.Close()
		return m.unreachable(err)
	}

	m.db = db
	m.state = stateReady
	m.logger.Info("database connection pool initialized",
		zap.Int("min", m.cfg.minConnections()),
		zap.Int("max", m.cfg.maxConnections()))
	return nil
}

// unreachable logs a failed initialization and wraps it as a *ConnectivityError.
func (m *Manager) unreachable(err error) error {
	m.logger.Error("failed to initialize database connection pool",
		zap.String("addr", m.cfg.Address()), zap.Error(err))
	return &ConnectivityError{Addr: m.cfg.Address(), Err: err}
}

// pool returns the live handle or the lifecycle error explaining why there is none.
func (m *Manager) pool() (*gorm.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state {
	case stateNew:
		return nil, ErrNotInitialized
	case stateClosed:
		return nil, ErrClosed
	}
	return m.db, nil
}

// TestConnection runs SELECT 1 on a pooled connection. Lifecycle errors are
// returned as-is; anything else comes back as a *ConnectivityError.
func (m *Manager) TestConnection(ctx context.Context) error {
	if _, err := m.pool(); err != nil {
		return err
	}

	rows, err := m.RunQuery(ctx, "SELECT 1")
	if err == nil {
		err = expectOne(rows)
	}
	if err != nil {
		m.logger.Error("database connection test failed", zap.Error(err))
		return &ConnectivityError{Addr: m.cfg.Address(), Err: err}
	}

	m.logger.Info("database connection test successful")
	return nil
}

// expectOne checks that SELECT 1 returned exactly one row holding the value 1.
func expectOne(rows []Row) error {
	if len(rows) != 1 || len(rows[0]) != 1 {
		return fmt.Errorf("unexpected connection test result %v", rows)
	}
	for _, v := range rows[0] {
		if n, err := cast.ToInt64E(v); err != nil || n != 1 {
			return fmt.Errorf("unexpected connection test value %v", v)
		}
	}
	return nil
}

// RunQuery executes one statement with bound parameters ($1, $2, ...) inside a
// READ ONLY transaction and returns every row. The statement text is not
// inspected. The connection goes back to the pool whether or not it succeeds,
// and execution is bounded by the connect timeout.
func (m *Manager) RunQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := m.pool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.timeout())
	defer cancel()

	tx, err := beginReadOnly(ctx, db, m.logger)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer tx.rollback()

	rows, err := tx.query(ctx, query, args...)
	if err != nil {
		m.logger.Error("query execution failed", zap.String("query", abbreviate(query)), zap.Error(err))
		return nil, &QueryError{Query: query, Err: err}
	}
	if err := tx.commit(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return rows, nil
}

// Stats reports the pool counters. It is the zero value before Initialize.
func (m *Manager) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return sql.DBStats{}
	}
	return m.db.DB().Stats()
}

// DB exposes the underlying pool, e.g. for metrics collectors. It is nil
// before Initialize.
func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil
	}
	return m.db.DB()
}

// Shutdown closes every pooled connection. Later calls are no-ops, and every
// other method fails with ErrClosed afterwards.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateClosed {
		return nil
	}
	initialized := m.state == stateReady
	m.state = stateClosed
	if !initialized {
		return nil
	}

	if err := m.db.Close(); err != nil {
		m.logger.Error("failed to close database connection pool", zap.Error(err))
		return &ShutdownError{Err: err}
	}
	m.logger.Info("database connection pool closed")
	return nil
}
