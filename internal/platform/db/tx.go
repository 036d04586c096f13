package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const txKey contextKey = "db_tx"

// WithTx begins a transaction on the tenant-scoped connection and returns a
// context carrying it. Repositories route their queries through the
// transaction until it commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no tenant connection on context")
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}

	return context.WithValue(ctx, txKey, tx), tx, nil
}

// TxFromContext retrieves the active transaction, or nil when none is open.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// InTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := WithTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
