package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/hashicorp/go-multierror"
)

// Config describes the store a [Manager] opens.
type Config struct {
	Path            string
	WALMode         bool
	BusyTimeout     time.Duration
	MaxReaders      int
	SlowTxThreshold time.Duration
}

// ConfigFrom maps the plugin's store settings onto a [Config].
func ConfigFrom(sc shared.StoreConfig) Config {
	return Config{
		Path:            sc.Path(),
		WALMode:         sc.WALMode,
		BusyTimeout:     sc.BusyTimeout(),
		MaxReaders:      sc.MaxReaders,
		SlowTxThreshold: sc.SlowTxThreshold(),
	}
}

// Manager owns the writable handle and the reader pool of one store file.
type Manager struct {
	cfg    Config
	writer *Handle
	reader *Handle
	coord  *Coordinator
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens the store at cfg.Path for writing, creating it if absent.
//
// It fails with [shared.ErrStoreLocked] when another instance already owns the file.
func Open(cfg Config, logger *log.Logger) (*Manager, error) {
	logger = shared.ComponentLogger(logger, "store")

	writer, err := OpenHandle(cfg.Path, Options{
		BusyTimeout: cfg.BusyTimeout,
		WALMode:     cfg.WALMode,
	})
	if err != nil {
		return nil, err
	}

	reader, err := OpenHandle(cfg.Path, Options{
		ReadOnly:    true,
		BusyTimeout: cfg.BusyTimeout,
		WALMode:     cfg.WALMode,
		MaxConns:    cfg.MaxReaders,
	})
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open reader pool: %w", err)
	}

	coord, err := NewCoordinator(writer, reader, CoordinatorOptions{
		BusyTimeout:     cfg.BusyTimeout,
		SlowTxThreshold: cfg.SlowTxThreshold,
		Logger:          logger,
	})
	if err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	logger.Info("store opened", "path", cfg.Path, "wal", cfg.WALMode, "busy_timeout", cfg.BusyTimeout)

	return &Manager{
		cfg:    cfg,
		writer: writer,
		reader: reader,
		coord:  coord,
		logger: logger,
	}, nil
}

// Coordinator returns the transaction coordinator bound to this store.
func (m *Manager) Coordinator() *Coordinator { return m.coord }

// Path returns the store file path.
func (m *Manager) Path() string { return m.cfg.Path }

// Checkpoint flushes the write-ahead log into the main database file.
//
// It is a no-op outside WAL mode.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if !m.cfg.WALMode {
		return nil
	}

	return m.coord.exclusive(ctx, func(db *sql.DB) error {
		var busy, logFrames, checkpointed int
		row := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
			return mapError("checkpoint", err)
		}
		if busy != 0 {
			m.logger.Warn("checkpoint incomplete, readers still active", "log_frames", logFrames, "checkpointed", checkpointed)
			return nil
		}
		m.logger.Debug("store checkpointed", "frames", checkpointed)
		return nil
	})
}

// Close waits for the in-flight writer, checkpoints, and closes both handles.
//
// Safe to call more than once; later calls return the first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var result *multierror.Error

		ctx := context.Background()
		if m.cfg.BusyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.cfg.BusyTimeout)
			defer cancel()
		}

		if err := m.Checkpoint(ctx); err != nil {
			result = multierror.Append(result, err)
		}

		if err := m.coord.shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}

		if err := m.reader.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("reader: %w", err))
		}

		if err := m.writer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("writer: %w", err))
		}

		m.closeErr = result.ErrorOrNil()
		if m.closeErr != nil {
			m.logger.Error("store closed with errors", "error", m.closeErr)
			return
		}
		m.logger.Info("store closed", "path", m.cfg.Path)
	})
	return m.closeErr
}
