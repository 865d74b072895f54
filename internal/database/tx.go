package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner starts transactions. *pgxpool.Pool and pgxmock pools satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor runs a function inside one transaction.
// The function's error, or a panic, rolls the transaction back; a nil return commits.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PoolTransactor is the Transactor backed by a pool.
// A nil pool means the global DB at call time.
type PoolTransactor struct {
	pool TxBeginner
}

var _ Transactor = (*PoolTransactor)(nil)

// NewTransactor returns a Transactor over pool, or over the global DB when pool is nil.
func NewTransactor(pool TxBeginner) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// RunInTx implements Transactor.
func (t *PoolTransactor) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool := t.pool
	if pool == nil {
		if DB == nil {
			return errors.New("database not initialized")
		}
		pool = DB
	}
	return RunInTransaction(ctx, pool, fn)
}

// RunInTransaction begins a transaction on db, runs fn and commits.
// Any error returned by fn aborts and rolls back; the original error is returned
// unchanged so callers can still match it with errors.As.
//
// Example:
//
//	err := database.RunInTransaction(ctx, database.DB, func(tx pgx.Tx) error {
//	    group, err := repo.LockGroupByID(ctx, tx, assessmentID, groupID)
//	    ...
//	})
func RunInTransaction(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		// Rollback errors are secondary to the error that caused the abort.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
