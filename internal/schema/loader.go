package schema

import (
	"context"
	"embed"
	"fmt"
	"maps"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/modstore/internal/store"
)

//go:embed sql
var migrationFiles embed.FS

// tableOrder is the order tables are registered and migrated in. Referenced tables come
// before the tables whose foreign keys point at them.
var tableOrder = []string{
	"players",
	"punishments",
	"staff_notes",
	"server_identity",
	"web_commands_log",
	"counters",
}

// builtinSteps are migrations expressed in Go, keyed by table. They are merged with the
// embedded SQL steps by version.
var builtinSteps = map[string][]Step{
	"server_identity": {
		{Version: 2, Name: "add_claim_columns", Apply: addClaimColumns},
	},
}

// Load returns a registry holding every embedded and built-in migration.
func Load(coord *store.Coordinator, logger *log.Logger) (*Registry, error) {
	steps, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	r := NewRegistry(coord, logger)
	for _, table := range tableOrder {
		list, ok := steps[table]
		if !ok {
			return nil, fmt.Errorf("no migrations found for table %s", table)
		}
		delete(steps, table)
		for _, step := range list {
			if err := r.Register(table, step); err != nil {
				return nil, fmt.Errorf("failed to register migration: %w", err)
			}
		}
	}
	if len(steps) > 0 {
		return nil, fmt.Errorf("tables %v have migrations but no place in the migration order", slices.Sorted(maps.Keys(steps)))
	}
	return r, nil
}

// loadMigrations reads sql/<table>/<NNNN>_<name>.sql files and merges in [builtinSteps],
// returning each table's steps sorted by version.
func loadMigrations() (map[string][]Step, error) {
	tables, err := migrationFiles.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	steps := make(map[string][]Step)
	for _, dir := range tables {
		if !dir.IsDir() {
			continue
		}
		table := dir.Name()

		entries, err := migrationFiles.ReadDir(path.Join("sql", table))
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations of %s: %w", table, err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
				continue
			}

			// "0002_add_locale.sql" -> version 2, name "add_locale"
			prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
			if !ok {
				return nil, fmt.Errorf("malformed migration file name %s/%s", table, name)
			}
			version, err := strconv.Atoi(prefix)
			if err != nil {
				return nil, fmt.Errorf("malformed migration version in %s/%s: %w", table, name, err)
			}

			content, err := migrationFiles.ReadFile(path.Join("sql", table, name))
			if err != nil {
				return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
			}

			steps[table] = append(steps[table], Step{Version: version, Name: rest, SQL: string(content)})
		}
	}

	for table, list := range builtinSteps {
		steps[table] = append(steps[table], list...)
	}

	for table, list := range steps {
		sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		for i, step := range list {
			if step.Version != i+1 {
				return nil, fmt.Errorf("table %s: expected migration version %d, found %d", table, i+1, step.Version)
			}
		}
	}

	return steps, nil
}

// addClaimColumns adds the web panel claim state to server_identity.
//
// Columns that already exist are left alone, so a store altered by hand still migrates.
func addClaimColumns(ctx context.Context, tx *store.Tx) error {
	columns := []struct{ name, ddl string }{
		{"is_claimed", "ALTER TABLE server_identity ADD COLUMN is_claimed INTEGER NOT NULL DEFAULT 0"},
		{"claim_token", "ALTER TABLE server_identity ADD COLUMN claim_token TEXT"},
	}

	for _, col := range columns {
		exists, err := columnExists(ctx, tx, "server_identity", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, col.ddl); err != nil {
			return err
		}
	}
	return nil
}

func columnExists(ctx context.Context, tx *store.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
