// Package schema declares the store's tables and applies their forward-only migrations.
//
// Each table carries its own version, recorded in schema_migrations one row per applied
// step. A step runs in its own write transaction together with the row that records it, so
// a step is either fully applied and recorded or not at all.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

// Step is one forward migration of a table.
//
// Exactly one of SQL or Apply is set. SQL may hold several statements separated by ";".
type Step struct {
	Version int
	Name    string
	SQL     string
	Apply   func(ctx context.Context, tx *store.Tx) error
}

// TableStatus reports a table's on-disk version against the latest registered one.
type TableStatus struct {
	Table   string `json:"table"`
	Current int    `json:"current"`
	Latest  int    `json:"latest"`
}

// Pending reports whether migrations remain to be applied.
func (s TableStatus) Pending() bool { return s.Current < s.Latest }

// Registry holds the registered steps of every table.
type Registry struct {
	coord  *store.Coordinator
	logger *log.Logger
	steps  map[string][]Step
	order  []string
}

// NewRegistry returns an empty registry bound to coord.
func NewRegistry(coord *store.Coordinator, logger *log.Logger) *Registry {
	return &Registry{
		coord:  coord,
		logger: shared.ComponentLogger(logger, "schema"),
		steps:  make(map[string][]Step),
	}
}

// Register appends step to table. Versions must start at 1 and increase by one.
func (r *Registry) Register(table string, step Step) error {
	if table == "" {
		return fmt.Errorf("%w: table name is required", shared.ErrInvalidArgument)
	}
	if (step.SQL == "") == (step.Apply == nil) {
		return fmt.Errorf("%w: step %s/%d needs exactly one of SQL or Apply", shared.ErrInvalidArgument, table, step.Version)
	}

	want := len(r.steps[table]) + 1
	if step.Version != want {
		return fmt.Errorf("%w: table %s expects version %d next, got %d", shared.ErrInvalidArgument, table, want, step.Version)
	}

	if want == 1 {
		r.order = append(r.order, table)
	}
	r.steps[table] = append(r.steps[table], step)
	return nil
}

// Tables returns the table names in registration order, which is the order they migrate in.
// A table must be registered after every table its foreign keys reference.
func (r *Registry) Tables() []string {
	return slices.Clone(r.order)
}

// Latest returns the highest registered version of table, or 0 if none.
func (r *Registry) Latest(table string) int {
	return len(r.steps[table])
}

// CurrentVersion returns the on-disk version of table, or 0 if it was never migrated.
func (r *Registry) CurrentVersion(ctx context.Context, table string) (int, error) {
	var version int
	err := r.coord.WithReadTransaction(ctx, func(tx *store.Tx) error {
		exists, err := versionTableExists(ctx, tx)
		if err != nil || !exists {
			return err
		}
		version, err = currentVersion(ctx, tx, table)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read version of %s: %w", table, err)
	}
	return version, nil
}

// Migrate moves table from version from to version to, one transaction per step.
//
// A step already recorded on disk is skipped, so re-running a migration is harmless. A target
// below the on-disk version, a step whose predecessor is not recorded, or a step that fails to
// apply yields a [shared.MigrationError] and leaves the table at its last good version.
func (r *Registry) Migrate(ctx context.Context, table string, from, to int) error {
	latest := r.Latest(table)
	switch {
	case latest == 0:
		return &shared.MigrationError{Table: table, Version: to, Err: errors.New("no migrations registered")}
	case from < 0 || to < from:
		return &shared.MigrationError{Table: table, Version: to, Err: fmt.Errorf("versions never decrease: %d to %d", from, to)}
	case to > latest:
		return &shared.MigrationError{Table: table, Version: to, Err: fmt.Errorf("latest registered version is %d", latest)}
	}

	if err := r.ensureVersionTable(ctx); err != nil {
		return err
	}

	current, err := r.CurrentVersion(ctx, table)
	if err != nil {
		return &shared.MigrationError{Table: table, Version: to, Err: err}
	}
	if to < current {
		return &shared.MigrationError{Table: table, Version: to, Err: fmt.Errorf("store is at version %d; versions never decrease", current)}
	}

	for v := from + 1; v <= to; v++ {
		if err := r.applyStep(ctx, table, r.steps[table][v-1]); err != nil {
			return err
		}
	}
	return nil
}

// MigrateAll brings every registered table to its latest version.
//
// A table whose on-disk version is ahead of the registry fails with [shared.MigrationError].
func (r *Registry) MigrateAll(ctx context.Context) error {
	for _, table := range r.Tables() {
		current, err := r.CurrentVersion(ctx, table)
		if err != nil {
			return &shared.MigrationError{Table: table, Version: current, Err: err}
		}

		latest := r.Latest(table)
		if current > latest {
			return &shared.MigrationError{
				Table:   table,
				Version: current,
				Err:     fmt.Errorf("store is newer than this build (latest known version %d)", latest),
			}
		}
		if current == latest {
			continue
		}

		r.logger.Info("migrating table", "table", table, "from", current, "to", latest)
		if err := r.Migrate(ctx, table, current, latest); err != nil {
			return err
		}
	}
	return nil
}

// Status reports current and latest versions of every registered table.
func (r *Registry) Status(ctx context.Context) ([]TableStatus, error) {
	var statuses []TableStatus
	for _, table := range r.Tables() {
		current, err := r.CurrentVersion(ctx, table)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, TableStatus{Table: table, Current: current, Latest: r.Latest(table)})
	}
	return statuses, nil
}

func (r *Registry) applyStep(ctx context.Context, table string, step Step) error {
	var applied bool
	err := r.coord.WithTransaction(ctx, func(tx *store.Tx) error {
		current, err := currentVersion(ctx, tx, table)
		if err != nil {
			return err
		}
		if current >= step.Version {
			return nil
		}
		if current != step.Version-1 {
			return fmt.Errorf("on-disk version is %d, step needs %d", current, step.Version-1)
		}

		if step.Apply != nil {
			err = step.Apply(ctx, tx)
		} else {
			err = execStatements(ctx, tx, step.SQL)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (table_name, version, name, applied_at) VALUES (?, ?, ?, ?)",
			table, step.Version, step.Name, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return &shared.MigrationError{Table: table, Version: step.Version, Err: err}
	}

	if applied {
		r.logger.Info("applied migration", "table", table, "version", step.Version, "name", step.Name)
	} else {
		r.logger.Debug("migration already applied", "table", table, "version", step.Version)
	}
	return nil
}

// ensureVersionTable creates the schema_migrations table if it doesn't exist.
func (r *Registry) ensureVersionTable(ctx context.Context) error {
	err := r.coord.WithTransaction(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				table_name TEXT NOT NULL,
				version INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				applied_at INTEGER NOT NULL,
				PRIMARY KEY (table_name, version)
			)
		`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func versionTableExists(ctx context.Context, tx *store.Tx) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	return n > 0, err
}

func currentVersion(ctx context.Context, tx *store.Tx, table string) (int, error) {
	var version sql.NullInt64
	err := tx.QueryRowContext(ctx,
		"SELECT MAX(version) FROM schema_migrations WHERE table_name = ?", table).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// execStatements executes each ";"-separated statement of script in order.
//
// The split is textual: a ";" or "--" inside a string literal breaks the statement, so
// migration scripts must not contain either in their data.
func execStatements(ctx context.Context, tx *store.Tx, script string) error {
	for _, stmt := range strings.Split(removeComments(script), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\nStatement: %s", err, stmt)
		}
	}
	return nil
}

// removeComments removes SQL line comments.
func removeComments(sql string) string {
	lines := strings.Split(sql, "\n")
	var result []string
	for _, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
