package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-tracker/internal/ports"
)

type txCtxKey struct{}

var ErrNoTx = errors.New("postgres: no transaction in context")

// archiveTxOptions suits append-only history batches.
var archiveTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

type unitOfWork struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewUnitOfWork binds a unit of work to pool.
func NewUnitOfWork(pool *pgxpool.Pool) ports.UnitOfWork {
	return &unitOfWork{pool: pool, opts: archiveTxOptions}
}

// WithinTx runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction. Rollback survives cancellation of ctx.
func (u *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := u.pool.BeginTx(ctx, u.opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txCtxKey{}, tx)); err != nil {
		return err
	}
	finished = true
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction stored by WithinTx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(pgx.Tx)
	return tx, ok
}

// MustTxFromContext is TxFromContext with ErrNoTx in place of false.
func MustTxFromContext(ctx context.Context) (pgx.Tx, error) {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return nil, ErrNoTx
	}
	return tx, nil
}
