package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/modstore/internal/shared"
	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3"
)

// Options configure a single [Handle].
type Options struct {
	ReadOnly    bool
	BusyTimeout time.Duration
	WALMode     bool
	// MaxConns caps the pool of a read-only handle. Writable handles always use one connection.
	MaxConns int
}

// Handle owns one connection pool to the store file.
type Handle struct {
	path string
	opts Options
	db   *sql.DB
	lock *fileLock

	closeOnce sync.Once
	closeErr  error
}

// OpenHandle opens path with the given options.
//
// A writable handle creates the file and its parent directory when absent, and holds an
// exclusive lock on "<path>.lock" until [Handle.Close]. A read-only handle requires the file
// to exist.
func OpenHandle(path string, opts Options) (*Handle, error) {
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil, fmt.Errorf("%w: store path must name a file, got %q", shared.ErrInvalidArgument, path)
	}

	h := &Handle{path: path, opts: opts}

	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open read-only store: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		lock, err := lockFile(path + ".lock")
		if err != nil {
			return nil, err
		}
		h.lock = lock
	}

	db, err := sql.Open("sqlite3", buildDSN(path, opts))
	if err != nil {
		h.releaseLock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	h.db = db

	configurePool(db, opts)

	if err := db.Ping(); err != nil {
		db.Close()
		h.releaseLock()
		return nil, mapError("ping", err)
	}

	if !opts.ReadOnly {
		if err := h.verifyJournalMode(); err != nil {
			db.Close()
			h.releaseLock()
			return nil, err
		}
	}

	return h, nil
}

// buildDSN encodes the connection settings as go-sqlite3 URI parameters so they apply to
// every pooled connection, not only the first.
func buildDSN(path string, opts Options) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")

	if opts.ReadOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("mode", "rwc")
		params.Set("_txlock", "immediate")
		if opts.WALMode {
			params.Set("_journal_mode", "WAL")
			params.Set("_synchronous", "NORMAL")
		} else {
			params.Set("_journal_mode", "DELETE")
			params.Set("_synchronous", "FULL")
		}
	}

	return "file:" + filepath.ToSlash(path) + "?" + params.Encode()
}

// configurePool sets connection pool settings for the handle.
func configurePool(db *sql.DB, opts Options) {
	if !opts.ReadOnly {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}

	conns := opts.MaxConns
	if conns < 1 {
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
}

func (h *Handle) verifyJournalMode() error {
	var mode string
	if err := h.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return mapError("query journal mode", err)
	}

	want := "delete"
	if h.opts.WALMode {
		want = "wal"
	}
	if !strings.EqualFold(mode, want) {
		return fmt.Errorf("failed to set journal mode to %s: got %s", want, mode)
	}
	return nil
}

// Path returns the store file path.
func (h *Handle) Path() string { return h.path }

// ReadOnly reports whether the handle rejects writes.
func (h *Handle) ReadOnly() bool { return h.opts.ReadOnly }

// WALMode reports whether the handle was opened in WAL journal mode.
func (h *Handle) WALMode() bool { return h.opts.WALMode }

// Close closes the pool and then releases the file lock. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		var result *multierror.Error
		if h.db != nil {
			if err := h.db.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to close database: %w", err))
			}
		}
		if err := h.releaseLock(); err != nil {
			result = multierror.Append(result, err)
		}
		h.closeErr = result.ErrorOrNil()
	})
	return h.closeErr
}

func (h *Handle) releaseLock() error {
	if h.lock == nil {
		return nil
	}
	err := h.lock.unlock()
	h.lock = nil
	return err
}
