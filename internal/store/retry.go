package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/desertthunder/modstore/internal/shared"
)

const (
	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

// beginWithRetry starts a transaction on db, retrying [shared.ErrStoreBusy] with exponential
// backoff until budget is spent. Any other failure is returned immediately.
//
// The transaction is detached from ctx cancellation: once begun it ends only by commit or rollback.
func beginWithRetry(ctx context.Context, db *sql.DB, budget time.Duration) (*sql.Tx, error) {
	op := func() (*sql.Tx, error) {
		tx, err := db.BeginTx(context.WithoutCancel(ctx), nil)
		if err == nil {
			return tx, nil
		}
		err = mapError("begin transaction", err)
		if errors.Is(err, shared.ErrStoreBusy) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	if budget <= 0 {
		tx, err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Unwrap()
		}
		return tx, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(budget))
}
