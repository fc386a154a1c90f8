package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/modstore/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// mapError converts driver errors into the shared taxonomy.
//
// SQLite errors are flattened to text so callers never match on engine codes.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: %w", op, shared.ErrTxDone)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s: %s", shared.ErrStoreBusy, op, sqliteErr.Error())
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %s: %s", shared.ErrConstraint, op, sqliteErr.Error())
		case sqlite3.ErrReadonly:
			return fmt.Errorf("%w: %s: %s", shared.ErrReadOnly, op, sqliteErr.Error())
		default:
			return fmt.Errorf("%s: %s", op, sqliteErr.Error())
		}
	}

	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %s", shared.ErrStoreClosed, op)
	}

	return fmt.Errorf("%s: %w", op, err)
}
