package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

// Mapper maps a record type onto the columns of one table.
//
// Columns lists every column, key first; Encode returns values in the same order and
// Decode scans them in the same order.
type Mapper[T any] interface {
	Table() string
	Columns() []string
	ID(rec T) string
	Encode(rec T) ([]any, error)
	Decode(scan func(dest ...any) error) (T, error)
}

type validator interface {
	Validate() error
}

// Repository implements get/put/delete/scan for one table over a [store.Coordinator].
//
// An unbound repository opens a transaction per call: reads use a read transaction, writes
// a write transaction that commits before the call returns. A repository bound with
// [Repository.In] runs every call inside the caller's transaction instead.
type Repository[T any] struct {
	coord  *store.Coordinator
	mapper Mapper[T]
	tx     *store.Tx

	selectCols string
	upsertSQL  string
}

// NewRepository creates a repository for the mapper's table.
func NewRepository[T any](coord *store.Coordinator, mapper Mapper[T]) *Repository[T] {
	cols := mapper.Columns()
	key := cols[0]

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	upsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO ",
		mapper.Table(), strings.Join(cols, ", "), placeholders, key)
	if len(updates) == 0 {
		upsert += "NOTHING"
	} else {
		upsert += "UPDATE SET " + strings.Join(updates, ", ")
	}

	return &Repository[T]{
		coord:      coord,
		mapper:     mapper,
		selectCols: strings.Join(cols, ", "),
		upsertSQL:  upsert,
	}
}

// In returns a copy of the repository bound to tx.
func (r *Repository[T]) In(tx *store.Tx) *Repository[T] {
	bound := *r
	bound.tx = tx
	return &bound
}

// Get returns the record with the given id. A missing record is reported as found == false
// with a nil error.
func (r *Repository[T]) Get(ctx context.Context, id string) (rec T, found bool, err error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", r.selectCols, r.mapper.Table(), r.key())

	err = r.read(ctx, func(tx *store.Tx) error {
		row := tx.QueryRowContext(ctx, query, id)
		decoded, err := r.mapper.Decode(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return r.decodeErr(err)
		}
		rec, found = decoded, true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("failed to get %s %s: %w", r.mapper.Table(), id, err)
	}
	return rec, found, nil
}

// Put inserts rec, or replaces every non-key column of the existing record with the same id.
func (r *Repository[T]) Put(ctx context.Context, rec T) error {
	if v, ok := any(rec).(validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	values, err := r.mapper.Encode(rec)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", shared.ErrSerialization, r.mapper.Table(), r.mapper.ID(rec), err)
	}

	err = r.write(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, r.upsertSQL, values...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", r.mapper.Table(), r.mapper.ID(rec), err)
	}
	return nil
}

// Delete removes the record with the given id. Deleting a missing record is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.mapper.Table(), r.key())

	err := r.write(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, query, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", r.mapper.Table(), id, err)
	}
	return nil
}

// Scan yields every record for which pred returns true, ordered by key. A nil pred matches all.
//
// Each range over the sequence reads from a fresh snapshot taken when iteration starts and
// released when it ends. Outside WAL mode, and inside a bound transaction, the rows are read
// in full before the first yield so writes made while ranging do not wait on the read.
// Decoding failures are yielded as [shared.ErrSerialization] errors; iteration continues if
// the consumer keeps ranging.
func (r *Repository[T]) Scan(ctx context.Context, pred func(T) bool) iter.Seq2[T, error] {
	return r.query(ctx, "", r.key(), pred)
}

// Count returns the number of records in the table.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.read(ctx, func(tx *store.Tx) error {
		return tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.mapper.Table())).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.mapper.Table(), err)
	}
	return n, nil
}

// query yields records matching the SQL where clause and pred, sorted by orderBy.
func (r *Repository[T]) query(ctx context.Context, where, orderBy string, pred func(T) bool, args ...any) iter.Seq2[T, error] {
	stmt := fmt.Sprintf("SELECT %s FROM %s", r.selectCols, r.mapper.Table())
	if where != "" {
		stmt += " WHERE " + where
	}
	if orderBy != "" {
		stmt += " ORDER BY " + orderBy
	}

	return func(yield func(T, error) bool) {
		var zero T

		if r.tx != nil || !r.coord.Snapshots() {
			// The caller may write while ranging, which a bound transaction or a non-WAL read
			// lock would block, so the rows are read in full before the first yield.
			var items []decoded[T]
			err := r.read(ctx, func(tx *store.Tx) error {
				var err error
				items, err = r.collect(ctx, tx, stmt, args)
				return err
			})
			if err != nil {
				yield(zero, err)
				return
			}
			for _, it := range items {
				if it.err == nil && pred != nil && !pred(it.rec) {
					continue
				}
				if !yield(it.rec, it.err) {
					return
				}
			}
			return
		}

		tx, err := r.coord.BeginRead(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, stmt, args...)
		if err != nil {
			yield(zero, fmt.Errorf("failed to scan %s: %w", r.mapper.Table(), err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := r.mapper.Decode(rows.Scan)
			if err != nil {
				if !yield(zero, r.decodeErr(err)) {
					return
				}
				continue
			}
			if pred != nil && !pred(rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("failed to scan %s: %w", r.mapper.Table(), err))
		}
	}
}

type decoded[T any] struct {
	rec T
	err error
}

// collect reads every row of stmt, keeping per-row decoding failures alongside the records.
func (r *Repository[T]) collect(ctx context.Context, tx *store.Tx, stmt string, args []any) ([]decoded[T], error) {
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.mapper.Table(), err)
	}
	defer rows.Close()

	var items []decoded[T]
	for rows.Next() {
		rec, err := r.mapper.Decode(rows.Scan)
		if err != nil {
			err = r.decodeErr(err)
		}
		items = append(items, decoded[T]{rec: rec, err: err})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.mapper.Table(), err)
	}
	return items, nil
}

// decodeErr reports a row that does not fit the table's column layout as a serialization error.
func (r *Repository[T]) decodeErr(err error) error {
	if errors.Is(err, shared.ErrSerialization) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrSerialization, r.mapper.Table(), err)
}

func (r *Repository[T]) key() string { return r.mapper.Columns()[0] }

// read runs fn in the bound transaction or a fresh read transaction.
func (r *Repository[T]) read(ctx context.Context, fn func(tx *store.Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.coord.WithReadTransaction(ctx, fn)
}

// write runs fn in the bound transaction or a fresh write transaction.
func (r *Repository[T]) write(ctx context.Context, fn func(tx *store.Tx) error) error {
	if r.tx != nil {
		if !r.tx.Writable() {
			return fmt.Errorf("%w: write through a read transaction", shared.ErrReadOnly)
		}
		return fn(r.tx)
	}
	return r.coord.WithTransaction(ctx, fn)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}

// first returns the first record of seq.
func first[T any](seq iter.Seq2[T, error]) (rec T, found bool, err error) {
	for rec, err := range seq {
		if err != nil {
			var zero T
			return zero, false, err
		}
		return rec, true, nil
	}
	return rec, false, nil
}
