package main

import (
	"context"
	"database/sql"
	"time"

	proofservice "vericred/internal/proofrequest/service"
	proofstore "vericred/internal/proofrequest/store"
	dErrors "vericred/pkg/domain-errors"
)

const defaultProofTxTimeout = 5 * time.Second

// proofPostgresTx runs the respond flow inside a database transaction so the
// one-response-per-holder check and the insert commit together.
type proofPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newProofPostgresTx(db *sql.DB) *proofPostgresTx {
	return &proofPostgresTx{db: db}
}

func (t *proofPostgresTx) RunInTx(ctx context.Context, fn func(store proofservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultProofTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(proofstore.NewPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}
