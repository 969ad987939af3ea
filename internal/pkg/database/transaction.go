package database

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes fn within a database transaction. The transaction is
// also placed in the ctx handed to fn, so repositories called from fn that
// use GetDBFromContext join it.
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		// Already inside a transaction, gorm turns this into a savepoint
		return tx.Transaction(func(inner *gorm.DB) error {
			return fn(ContextWithTransaction(ctx, inner), inner)
		})
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ContextWithTransaction(ctx, tx), tx); err != nil {
			db.logger.WithContext(ctx).Warn("transaction failed, rolling back", zap.Error(err))
			return err
		}
		return nil
	})
}

// TransactionKey is the context key for storing transaction
type TransactionKey struct{}

// ContextWithTransaction adds transaction to context
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, TransactionKey{}, tx)
}

// TransactionFromContext extracts transaction from context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(TransactionKey{}).(*gorm.DB)
	return tx, ok
}

// GetDBFromContext returns the database instance from context if transaction exists, otherwise returns the original DB
func (db *DB) GetDBFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
