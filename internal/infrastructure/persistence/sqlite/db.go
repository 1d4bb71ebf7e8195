package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"go.uber.org/zap"
)

type contextKey struct{}

var txKey = contextKey{}

// Executor is implemented by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps sql.DB and implements port.TransactionManager
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		logger: logger,
	}
}

type tx struct {
	*sql.Tx
	logger *zap.Logger
}

// Rollback ignores sql.ErrTxDone so it can be deferred after Commit
func (t *tx) Rollback() error {
	if err := t.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.Error("Failed to rollback transaction", zap.Error(err))
		return err
	}
	return nil
}

// Begin implements port.TransactionManager
func (db *DB) Begin(ctx context.Context) (context.Context, port.Tx, error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, sqlTx), &tx{Tx: sqlTx, logger: db.logger}, nil
}

// WithTransaction implements port.TransactionManager
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	txCtx, t, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = t.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = t.Rollback()
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = t.Rollback()
		return err
	}

	if err := t.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Executor returns the transaction carried by ctx, or the database when there is none
func (db *DB) Executor(ctx context.Context) Executor {
	if t := extractTx(ctx); t != nil {
		return t
	}
	return db.DB
}

// InTransaction reports whether ctx carries an open transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

func extractTx(ctx context.Context) *sql.Tx {
	if t, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return t
	}
	return nil
}

var _ port.TransactionManager = (*DB)(nil)
