package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/modstore/internal/shared"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// slowTxWarnEvery bounds how often slow-transaction warnings reach the log.
const slowTxWarnEvery = 10 * time.Second

// Coordinator hands out transactions over a writer handle and a reader handle.
//
// At most one write transaction is in flight at any instant.
type Coordinator struct {
	writer *Handle
	reader *Handle

	writeSem    *semaphore.Weighted
	busyTimeout time.Duration
	slowTx      time.Duration
	slowWarn    *rate.Limiter
	logger      *log.Logger
	closed      atomic.Bool
}

// CoordinatorOptions tune a [Coordinator].
type CoordinatorOptions struct {
	BusyTimeout     time.Duration
	SlowTxThreshold time.Duration
	Logger          *log.Logger
}

// NewCoordinator builds a coordinator over an already open writer and reader.
//
// The coordinator does not own the handles; closing them is the caller's job.
func NewCoordinator(writer, reader *Handle, opts CoordinatorOptions) (*Coordinator, error) {
	if writer == nil || writer.ReadOnly() {
		return nil, fmt.Errorf("%w: coordinator needs a writable handle", shared.ErrInvalidArgument)
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: coordinator needs a reader handle", shared.ErrInvalidArgument)
	}

	return &Coordinator{
		writer:      writer,
		reader:      reader,
		writeSem:    semaphore.NewWeighted(1),
		busyTimeout: opts.BusyTimeout,
		slowTx:      opts.SlowTxThreshold,
		slowWarn:    rate.NewLimiter(rate.Every(slowTxWarnEvery), 1),
		logger:      shared.ComponentLogger(opts.Logger, "tx"),
	}, nil
}

// Begin starts a write transaction.
//
// It blocks for at most the busy timeout waiting for the in-flight writer to finish, then
// fails with [shared.ErrStoreBusy].
func (c *Coordinator) Begin(ctx context.Context) (*Tx, error) {
	if c.closed.Load() {
		return nil, shared.ErrStoreClosed
	}

	started := time.Now()
	if err := c.acquireWriter(ctx); err != nil {
		return nil, err
	}

	// Close may have raced the acquire.
	if c.closed.Load() {
		c.writeSem.Release(1)
		return nil, shared.ErrStoreClosed
	}

	sqlTx, err := beginWithRetry(ctx, c.writer.db, c.busyTimeout-time.Since(started))
	if err != nil {
		c.writeSem.Release(1)
		return nil, err
	}

	return &Tx{
		tx:      sqlTx,
		write:   true,
		started: started,
		coord:   c,
		release: func() { c.writeSem.Release(1) },
	}, nil
}

// Snapshots reports whether read transactions run on a WAL snapshot. Outside WAL mode an open
// read transaction holds a shared lock that blocks writers from committing.
func (c *Coordinator) Snapshots() bool { return c.reader.WALMode() }

// BeginRead starts a read-only transaction on the reader pool.
//
// Reads never wait on the writer semaphore.
func (c *Coordinator) BeginRead(ctx context.Context) (*Tx, error) {
	if c.closed.Load() {
		return nil, shared.ErrStoreClosed
	}

	started := time.Now()
	sqlTx, err := beginWithRetry(ctx, c.reader.db, c.busyTimeout)
	if err != nil {
		return nil, err
	}

	return &Tx{tx: sqlTx, started: started, coord: c}, nil
}

// WithTransaction runs fn inside a write transaction.
//
// The transaction commits when fn returns nil and rolls back when fn returns an error or
// panics; a panic is re-raised after the rollback. The writer is released on every path.
func (c *Coordinator) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	return c.run(tx, fn)
}

// WithReadTransaction runs fn inside a read transaction and always rolls it back.
func (c *Coordinator) WithReadTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func (c *Coordinator) run(tx *Tx, fn func(tx *Tx) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.Error("rollback after panic failed", "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}

	// fn may have ended the transaction itself.
	if tx.Done() {
		return nil
	}
	return tx.Commit()
}

func (c *Coordinator) acquireWriter(ctx context.Context) error {
	if c.writeSem.TryAcquire(1) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.busyTimeout)
	defer cancel()

	if err := c.writeSem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: writer still held after %v", shared.ErrStoreBusy, c.busyTimeout)
	}
	return nil
}

// exclusive runs fn on the writer pool outside any transaction while holding the writer.
func (c *Coordinator) exclusive(ctx context.Context, fn func(db *sql.DB) error) error {
	if c.closed.Load() {
		return shared.ErrStoreClosed
	}
	if err := c.acquireWriter(ctx); err != nil {
		return err
	}
	defer c.writeSem.Release(1)
	return fn(c.writer.db)
}

// shutdown stops new transactions and waits for the in-flight writer, if any.
func (c *Coordinator) shutdown(ctx context.Context) error {
	c.closed.Store(true)
	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for in-flight writer: %w", err)
	}
	c.writeSem.Release(1)
	return nil
}

func (c *Coordinator) observe(t *Tx) {
	if c.slowTx <= 0 {
		return
	}
	elapsed := time.Since(t.started)
	if elapsed < c.slowTx || !c.slowWarn.Allow() {
		return
	}
	c.logger.Warn("slow transaction", "write", t.write, "elapsed", elapsed, "threshold", c.slowTx)
}

// Tx is a unit of work obtained from a [Coordinator].
//
// A Tx is not safe for concurrent use by multiple goroutines.
type Tx struct {
	tx      *sql.Tx
	write   bool
	started time.Time
	coord   *Coordinator
	release func()

	mu   sync.Mutex
	done bool
}

// Writable reports whether the transaction holds the writer.
func (t *Tx) Writable() bool { return t.write }

// Done reports whether the transaction has been committed or rolled back.
func (t *Tx) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Commit makes every write of the transaction visible at once.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return shared.ErrTxDone
	}
	t.done = true
	defer t.finish()

	return mapError("commit", t.tx.Commit())
}

// Rollback discards the transaction. Calling it again, or after Commit, is a no-op.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.finish()

	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return mapError("rollback", err)
	}
	return nil
}

func (t *Tx) finish() {
	if t.release != nil {
		t.release()
	}
	t.coord.observe(t)
}

// ExecContext executes a statement that modifies the store.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !t.write {
		return nil, fmt.Errorf("%w: exec in read transaction", shared.ErrReadOnly)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("exec", err)
	}
	return res, nil
}

// QueryContext runs a query and returns its rows.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query", err)
	}
	return &Rows{Rows: rows}, nil
}

// QueryRowContext runs a query expected to return at most one row.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	return &Row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Rows wraps [sql.Rows] so iteration errors are translated like every other store error.
type Rows struct {
	*sql.Rows
}

func (r *Rows) Scan(dest ...any) error {
	return mapError("scan", r.Rows.Scan(dest...))
}

func (r *Rows) Err() error {
	return mapError("iterate rows", r.Rows.Err())
}

// Row wraps [sql.Row]; a missing row still matches [sql.ErrNoRows].
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	return mapError("scan", r.row.Scan(dest...))
}
