package postgres

import (
	"context"
	"database/sql"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Row is one result row keyed by column name.
type Row map[string]any

// contextQueryer is the *sql.Tx behind a gorm transaction. gorm v1 has no
// context-aware Raw, and statements must stop at the query deadline.
type contextQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// readOnlyTx pins one pooled connection for the duration of a READ ONLY gorm
// transaction. Finishing it, by commit or rollback, returns the connection.
//
//	tx, err := beginReadOnly(ctx, db, logger)
//	if err != nil { return err }
//	defer tx.rollback() // no-op after commit
//	rows, err := tx.query(ctx, "SELECT 1")
//	if err != nil { return err }
//	return tx.commit()
type readOnlyTx struct {
	id     uuid.UUID   // Identifies the transaction in debug logs.
	tx     *gorm.DB    // Transaction-bound gorm handle.
	logger *zap.Logger // Logger for transaction activity.
	done   bool        // Set once the transaction was committed or rolled back.
}

// beginReadOnly starts a READ ONLY transaction that is aborted when ctx ends.
func beginReadOnly(ctx context.Context, db *gorm.DB, logger *zap.Logger) (*readOnlyTx, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	tx := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err := tx.Error; err != nil {
		logger.Error("cannot begin read-only transaction", zap.Stringer("tx", id), zap.Error(err))
		return nil, err
	}

	logger.Debug("new read-only transaction", zap.Stringer("tx", id))
	return &readOnlyTx{id: id, tx: tx, logger: logger}, nil
}

// query runs one statement inside the transaction and drains its rows.
func (t *readOnlyTx) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if t.done {
		return nil, ErrTxDone
	}
	q, ok := t.tx.CommonDB().(contextQueryer)
	if !ok {
		return nil, gorm.ErrInvalidTransaction
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// commit ends the transaction. A second commit returns ErrTxDone.
func (t *readOnlyTx) commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	if err := t.tx.Commit().Error; err != nil {
		t.logger.Error("cannot commit read-only transaction", zap.Stringer("tx", t.id), zap.Error(err))
		return err
	}
	t.logger.Debug("read-only transaction committed", zap.Stringer("tx", t.id))
	return nil
}

// rollback aborts the transaction unless it already finished.
func (t *readOnlyTx) rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	if err := t.tx.Rollback().Error; err != nil {
		t.logger.Warn("cannot roll back read-only transaction", zap.Stringer("tx", t.id), zap.Error(err))
		return err
	}
	t.logger.Debug("read-only transaction rolled back", zap.Stringer("tx", t.id))
	return nil
}

// scanRows drains rows into maps. Text and unknown types arrive as []byte and
// are returned as strings.
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]Row, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
