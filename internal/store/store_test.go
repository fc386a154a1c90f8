package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/modstore/internal/shared"
	"golang.org/x/sync/errgroup"
)

// setupTestStore opens a WAL store in a temp dir with a single kv table.
func setupTestStore(t *testing.T, busy time.Duration) *Manager {
	t.Helper()

	m, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: busy,
		MaxReaders:  4,
	}, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	err = m.Coordinator().WithTransaction(context.Background(), func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER NOT NULL)")
		return err
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	return m
}

func putKV(t *testing.T, tx *Tx, k string, v int) {
	t.Helper()
	_, err := tx.ExecContext(context.Background(),
		"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", k, v)
	if err != nil {
		t.Fatalf("failed to put %s: %v", k, err)
	}
}

func readKV(t *testing.T, c *Coordinator, k string) (int, bool) {
	t.Helper()
	var (
		v     int
		found bool
	)
	err := c.WithReadTransaction(context.Background(), func(tx *Tx) error {
		err := tx.QueryRowContext(context.Background(), "SELECT v FROM kv WHERE k = ?", k).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		t.Fatalf("failed to read %s: %v", k, err)
	}
	return v, found
}

func TestHandle(t *testing.T) {
	t.Run("CreatesFileAndLock", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "store.db")

		h, err := OpenHandle(path, Options{BusyTimeout: time.Second, WALMode: true})
		if err != nil {
			t.Fatalf("failed to open handle: %v", err)
		}
		defer h.Close()

		if _, err := os.Stat(path); err != nil {
			t.Errorf("store file should exist: %v", err)
		}
		if _, err := os.Stat(path + ".lock"); err != nil {
			t.Errorf("lock file should exist: %v", err)
		}
		if h.ReadOnly() {
			t.Error("handle should be writable")
		}
	})

	t.Run("SecondWriterIsLocked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.db")

		first, err := OpenHandle(path, Options{BusyTimeout: time.Second, WALMode: true})
		if err != nil {
			t.Fatalf("failed to open first handle: %v", err)
		}

		_, err = OpenHandle(path, Options{BusyTimeout: time.Second, WALMode: true})
		if !errors.Is(err, shared.ErrStoreLocked) {
			t.Fatalf("expected ErrStoreLocked, got %v", err)
		}

		if err := first.Close(); err != nil {
			t.Fatalf("failed to close first handle: %v", err)
		}

		again, err := OpenHandle(path, Options{BusyTimeout: time.Second, WALMode: true})
		if err != nil {
			t.Fatalf("reopen after close should succeed: %v", err)
		}
		again.Close()
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		h, err := OpenHandle(filepath.Join(t.TempDir(), "store.db"), Options{})
		if err != nil {
			t.Fatalf("failed to open handle: %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("first close failed: %v", err)
		}
		if err := h.Close(); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
	})

	t.Run("ReadOnlyRequiresFile", func(t *testing.T) {
		_, err := OpenHandle(filepath.Join(t.TempDir(), "missing.db"), Options{ReadOnly: true})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})

	t.Run("RejectsMemoryPath", func(t *testing.T) {
		tc := []string{"", ":memory:"}
		for _, path := range tc {
			if _, err := OpenHandle(path, Options{}); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("path %q: expected ErrInvalidArgument, got %v", path, err)
			}
		}
	})

	t.Run("JournalMode", func(t *testing.T) {
		tc := []struct {
			name string
			wal  bool
			want string
		}{
			{name: "wal", wal: true, want: "wal"},
			{name: "delete", wal: false, want: "delete"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				h, err := OpenHandle(filepath.Join(t.TempDir(), "store.db"), Options{WALMode: tt.wal})
				if err != nil {
					t.Fatalf("failed to open handle: %v", err)
				}
				defer h.Close()

				var mode string
				if err := h.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
					t.Fatalf("failed to query journal mode: %v", err)
				}
				if mode != tt.want {
					t.Errorf("journal mode = %s, want %s", mode, tt.want)
				}
			})
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("SecondOpenIsLocked", func(t *testing.T) {
		m := setupTestStore(t, time.Second)

		_, err := Open(Config{Path: m.Path(), WALMode: true, BusyTimeout: time.Second, MaxReaders: 1}, nil)
		if !errors.Is(err, shared.ErrStoreLocked) && !errors.Is(err, shared.ErrStoreBusy) {
			t.Fatalf("expected ErrStoreLocked or ErrStoreBusy, got %v", err)
		}

		if _, found := readKV(t, m.Coordinator(), "missing"); found {
			t.Error("first store should be unaffected")
		}
	})

	t.Run("CloseRejectsNewTransactions", func(t *testing.T) {
		m := setupTestStore(t, time.Second)

		if err := m.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("second close should return the first result, got %v", err)
		}

		if _, err := m.Coordinator().Begin(context.Background()); !errors.Is(err, shared.ErrStoreClosed) {
			t.Errorf("Begin after close: expected ErrStoreClosed, got %v", err)
		}
		if _, err := m.Coordinator().BeginRead(context.Background()); !errors.Is(err, shared.ErrStoreClosed) {
			t.Errorf("BeginRead after close: expected ErrStoreClosed, got %v", err)
		}
	})

	t.Run("DataSurvivesReopen", func(t *testing.T) {
		m := setupTestStore(t, time.Second)
		path := m.Path()

		err := m.Coordinator().WithTransaction(context.Background(), func(tx *Tx) error {
			putKV(t, tx, "a", 7)
			return nil
		})
		if err != nil {
			t.Fatalf("write failed: %v", err)
		}

		if err := m.Checkpoint(context.Background()); err != nil {
			t.Fatalf("checkpoint failed: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		reopened, err := Open(Config{Path: path, WALMode: true, BusyTimeout: time.Second, MaxReaders: 1}, nil)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()

		if v, found := readKV(t, reopened.Coordinator(), "a"); !found || v != 7 {
			t.Errorf("expected a=7 after reopen, got %d (found %v)", v, found)
		}
	})
}

func TestCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitIsVisible", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		tx, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		putKV(t, tx, "a", 1)
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		if v, found := readKV(t, c, "a"); !found || v != 1 {
			t.Errorf("expected a=1, got %d (found %v)", v, found)
		}

		if err := tx.Commit(); !errors.Is(err, shared.ErrTxDone) {
			t.Errorf("second commit: expected ErrTxDone, got %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Errorf("rollback after commit should be a no-op, got %v", err)
		}
	})

	t.Run("RollbackIsIdempotent", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		tx, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		putKV(t, tx, "a", 1)

		for i := 0; i < 3; i++ {
			if err := tx.Rollback(); err != nil {
				t.Fatalf("rollback %d failed: %v", i, err)
			}
		}

		if _, found := readKV(t, c, "a"); found {
			t.Error("rolled back write should not be visible")
		}

		// The writer must have been released exactly once.
		next, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin after rollback failed: %v", err)
		}
		next.Rollback()
	})

	t.Run("WriterContentionIsBusy", func(t *testing.T) {
		c := setupTestStore(t, 50*time.Millisecond).Coordinator()

		held, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		defer held.Rollback()

		started := time.Now()
		_, err = c.Begin(ctx)
		if !errors.Is(err, shared.ErrStoreBusy) {
			t.Fatalf("expected ErrStoreBusy, got %v", err)
		}
		if waited := time.Since(started); waited < 40*time.Millisecond {
			t.Errorf("expected to wait for the busy timeout, waited %v", waited)
		}
	})

	t.Run("CallerContextCancelsWait", func(t *testing.T) {
		c := setupTestStore(t, time.Minute).Coordinator()

		held, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		defer held.Rollback()

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		if _, err := c.Begin(short); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context deadline, got %v", err)
		}
	})

	t.Run("ReadTransactionRejectsWrites", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		err := c.WithReadTransaction(ctx, func(tx *Tx) error {
			if tx.Writable() {
				t.Error("read transaction should not be writable")
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('x', 1)")
			return err
		})
		if !errors.Is(err, shared.ErrReadOnly) {
			t.Errorf("expected ErrReadOnly, got %v", err)
		}
	})

	t.Run("WithTransactionRollsBackOnError", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()
		boom := errors.New("boom")

		err := c.WithTransaction(ctx, func(tx *Tx) error {
			putKV(t, tx, "a", 1)
			putKV(t, tx, "b", 2)
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}

		for _, k := range []string{"a", "b"} {
			if _, found := readKV(t, c, k); found {
				t.Errorf("%s should not be visible after failed transaction", k)
			}
		}
	})

	t.Run("WithTransactionRollsBackOnPanic", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		func() {
			defer func() {
				if recover() == nil {
					t.Error("panic should be re-raised")
				}
			}()
			c.WithTransaction(ctx, func(tx *Tx) error {
				putKV(t, tx, "a", 1)
				panic("mid-transaction failure")
			})
		}()

		if _, found := readKV(t, c, "a"); found {
			t.Error("write before panic should be rolled back")
		}

		if err := c.WithTransaction(ctx, func(tx *Tx) error { return nil }); err != nil {
			t.Errorf("writer should be released after panic, got %v", err)
		}
	})

	t.Run("WithTransactionAfterExplicitRollback", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		err := c.WithTransaction(ctx, func(tx *Tx) error {
			putKV(t, tx, "a", 1)
			return tx.Rollback()
		})
		if err != nil {
			t.Fatalf("abandoned transaction should not fail, got %v", err)
		}
		if _, found := readKV(t, c, "a"); found {
			t.Error("abandoned write should not be visible")
		}
	})

	t.Run("ReadSnapshotIsolation", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		writer, err := c.Begin(ctx)
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		putKV(t, writer, "a", 1)
		putKV(t, writer, "b", 2)

		count := func() int {
			var n int
			err := c.WithReadTransaction(ctx, func(tx *Tx) error {
				return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&n)
			})
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			return n
		}

		if n := count(); n != 0 {
			t.Errorf("reader before commit saw %d rows, want 0", n)
		}

		if err := writer.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		if n := count(); n != 2 {
			t.Errorf("reader after commit saw %d rows, want 2", n)
		}
	})

	t.Run("ConcurrentWritersLoseNoUpdates", func(t *testing.T) {
		const (
			writers   = 8
			increment = 25
		)
		c := setupTestStore(t, 10*time.Second).Coordinator()

		err := c.WithTransaction(ctx, func(tx *Tx) error {
			putKV(t, tx, "counter", 0)
			return nil
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				for j := 0; j < increment; j++ {
					err := c.WithTransaction(ctx, func(tx *Tx) error {
						var v int
						if err := tx.QueryRowContext(ctx, "SELECT v FROM kv WHERE k = 'counter'").Scan(&v); err != nil {
							return err
						}
						_, err := tx.ExecContext(ctx, "UPDATE kv SET v = ? WHERE k = 'counter'", v+1)
						return err
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent writer failed: %v", err)
		}

		if v, _ := readKV(t, c, "counter"); v != writers*increment {
			t.Errorf("counter = %d, want %d", v, writers*increment)
		}
	})

	t.Run("ConstraintErrorsAreTranslated", func(t *testing.T) {
		c := setupTestStore(t, time.Second).Coordinator()

		err := c.WithTransaction(ctx, func(tx *Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('a', 1)"); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('a', 2)")
			return err
		})
		if !errors.Is(err, shared.ErrConstraint) {
			t.Errorf("expected ErrConstraint, got %v", err)
		}
	})
}
