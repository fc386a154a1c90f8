package schema

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

// setupTestStore opens an empty WAL store in a temp dir.
func setupTestStore(t *testing.T) *store.Coordinator {
	t.Helper()

	m, err := store.Open(store.Config{
		Path:        filepath.Join(t.TempDir(), "schema.db"),
		WALMode:     true,
		BusyTimeout: 2 * time.Second,
		MaxReaders:  2,
	}, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	return m.Coordinator()
}

func columnsOf(t *testing.T, c *store.Coordinator, table string) []string {
	t.Helper()
	ctx := context.Background()

	var cols []string
	err := c.WithReadTransaction(ctx, func(tx *store.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			cols = append(cols, name)
		}
		return rows.Err()
	})
	if err != nil {
		t.Fatalf("failed to read columns of %s: %v", table, err)
	}
	return cols
}

func TestLoadMigrations(t *testing.T) {
	steps, err := loadMigrations()
	if err != nil {
		t.Fatalf("failed to load migrations: %v", err)
	}

	want := map[string]int{
		"counters":         1,
		"players":          2,
		"punishments":      2,
		"server_identity":  2,
		"staff_notes":      1,
		"web_commands_log": 1,
	}

	for table, latest := range want {
		list, ok := steps[table]
		if !ok {
			t.Errorf("missing migrations for %s", table)
			continue
		}
		if len(list) != latest {
			t.Errorf("%s: expected %d steps, got %d", table, latest, len(list))
		}
		for i, step := range list {
			if step.Version != i+1 {
				t.Errorf("%s: step %d has version %d", table, i, step.Version)
			}
			if step.SQL == "" && step.Apply == nil {
				t.Errorf("%s: step %d has no body", table, step.Version)
			}
		}
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("MigrateAll", func(t *testing.T) {
		c := setupTestStore(t)
		r, err := Load(c, nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}

		if err := r.MigrateAll(ctx); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}

		statuses, err := r.Status(ctx)
		if err != nil {
			t.Fatalf("failed to read status: %v", err)
		}
		for _, s := range statuses {
			if s.Pending() {
				t.Errorf("%s still pending: %d of %d", s.Table, s.Current, s.Latest)
			}
		}

		var types int
		err = c.WithReadTransaction(ctx, func(tx *store.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM punishment_types").Scan(&types)
		})
		if err != nil {
			t.Fatalf("failed to count punishment types: %v", err)
		}
		if types != 5 {
			t.Errorf("expected 5 punishment types, got %d", types)
		}

		cols := strings.Join(columnsOf(t, c, "server_identity"), ",")
		if !strings.Contains(cols, "is_claimed") || !strings.Contains(cols, "claim_token") {
			t.Errorf("server_identity missing claim columns: %s", cols)
		}
	})

	t.Run("MigrateAllIsIdempotent", func(t *testing.T) {
		c := setupTestStore(t)
		r, err := Load(c, nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}

		for i := 0; i < 2; i++ {
			if err := r.MigrateAll(ctx); err != nil {
				t.Fatalf("migration run %d failed: %v", i+1, err)
			}
		}

		var applied int
		err = c.WithReadTransaction(ctx, func(tx *store.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
		})
		if err != nil {
			t.Fatalf("failed to count applied migrations: %v", err)
		}

		total := 0
		for _, table := range r.Tables() {
			total += r.Latest(table)
		}
		if applied != total {
			t.Errorf("expected %d recorded migrations, got %d", total, applied)
		}
	})

	t.Run("ReapplyingStepIsHarmless", func(t *testing.T) {
		c := setupTestStore(t)
		r, err := Load(c, nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}

		if err := r.Migrate(ctx, "players", 0, 1); err != nil {
			t.Fatalf("migrate 0->1 failed: %v", err)
		}

		err = c.WithTransaction(ctx, func(tx *store.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO players (uuid, username, first_seen, last_seen) VALUES ('p1', 'steve', 1, 2)")
			return err
		})
		if err != nil {
			t.Fatalf("failed to insert player: %v", err)
		}

		if err := r.Migrate(ctx, "players", 1, 2); err != nil {
			t.Fatalf("migrate 1->2 failed: %v", err)
		}
		once := columnsOf(t, c, "players")

		// A restart that still believes the table is at version 1.
		if err := r.Migrate(ctx, "players", 1, 2); err != nil {
			t.Fatalf("second migrate 1->2 failed: %v", err)
		}
		twice := columnsOf(t, c, "players")

		if strings.Join(once, ",") != strings.Join(twice, ",") {
			t.Errorf("schema changed on re-run: %v vs %v", once, twice)
		}

		var username string
		err = c.WithReadTransaction(ctx, func(tx *store.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT username FROM players WHERE uuid = 'p1'").Scan(&username)
		})
		if err != nil || username != "steve" {
			t.Errorf("player data lost: %q, %v", username, err)
		}

		if v, _ := r.CurrentVersion(ctx, "players"); v != 2 {
			t.Errorf("expected version 2, got %d", v)
		}
	})

	t.Run("FailedStepRollsBack", func(t *testing.T) {
		c := setupTestStore(t)
		r := NewRegistry(c, nil)

		steps := []Step{
			{Version: 1, Name: "create", SQL: "CREATE TABLE regions (name TEXT PRIMARY KEY)"},
			{Version: 2, Name: "conflict", SQL: "ALTER TABLE regions ADD COLUMN flags TEXT; ALTER TABLE regions ADD COLUMN name TEXT"},
		}
		for _, s := range steps {
			if err := r.Register("regions", s); err != nil {
				t.Fatalf("register failed: %v", err)
			}
		}

		err := r.MigrateAll(ctx)
		var migErr *shared.MigrationError
		if !errors.As(err, &migErr) {
			t.Fatalf("expected MigrationError, got %v", err)
		}
		if migErr.Table != "regions" || migErr.Version != 2 {
			t.Errorf("unexpected failing step %s/%d", migErr.Table, migErr.Version)
		}
		if !errors.Is(err, shared.ErrMigration) {
			t.Error("error should match ErrMigration")
		}

		if v, _ := r.CurrentVersion(ctx, "regions"); v != 1 {
			t.Errorf("expected version to stay at 1, got %d", v)
		}
		if cols := columnsOf(t, c, "regions"); len(cols) != 1 {
			t.Errorf("partial step should be rolled back, columns: %v", cols)
		}
	})

	t.Run("RejectsGapsAndDowngrades", func(t *testing.T) {
		c := setupTestStore(t)
		r, err := Load(c, nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}

		tc := []struct {
			name     string
			from, to int
		}{
			{name: "gap", from: 1, to: 2},
			{name: "decrease", from: 2, to: 1},
			{name: "beyond latest", from: 0, to: 9},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if err := r.Migrate(ctx, "players", tt.from, tt.to); !errors.Is(err, shared.ErrMigration) {
					t.Errorf("expected ErrMigration, got %v", err)
				}
			})
		}

		if err := r.Migrate(ctx, "unknown", 0, 1); !errors.Is(err, shared.ErrMigration) {
			t.Errorf("unknown table: expected ErrMigration, got %v", err)
		}

		t.Run("below on-disk version", func(t *testing.T) {
			if err := r.Migrate(ctx, "players", 0, 2); err != nil {
				t.Fatalf("failed to migrate players: %v", err)
			}
			if err := r.Migrate(ctx, "players", 0, 1); !errors.Is(err, shared.ErrMigration) {
				t.Errorf("expected ErrMigration, got %v", err)
			}
			if v, _ := r.CurrentVersion(ctx, "players"); v != 2 {
				t.Errorf("expected version to stay at 2, got %d", v)
			}
			if err := r.Migrate(ctx, "players", 0, 2); err != nil {
				t.Errorf("re-running up to the on-disk version should succeed, got %v", err)
			}
		})
	})

	t.Run("TablesInRegistrationOrder", func(t *testing.T) {
		r, err := Load(setupTestStore(t), nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}

		tables := r.Tables()
		if !slices.Equal(tables, tableOrder) {
			t.Fatalf("expected %v, got %v", tableOrder, tables)
		}
		players := slices.Index(tables, "players")
		for _, dependent := range []string{"punishments", "staff_notes"} {
			if i := slices.Index(tables, dependent); i < players {
				t.Errorf("%s must migrate after players, got %v", dependent, tables)
			}
		}

		manual := NewRegistry(nil, nil)
		for _, table := range []string{"zones", "accounts", "zones"} {
			manual.Register(table, Step{Version: manual.Latest(table) + 1, SQL: "SELECT 1"})
		}
		if got := manual.Tables(); !slices.Equal(got, []string{"zones", "accounts"}) {
			t.Errorf("expected registration order, got %v", got)
		}
	})

	t.Run("StoreNewerThanBuild", func(t *testing.T) {
		c := setupTestStore(t)
		full, err := Load(c, nil)
		if err != nil {
			t.Fatalf("failed to load registry: %v", err)
		}
		if err := full.MigrateAll(ctx); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}

		older := NewRegistry(c, nil)
		older.Register("players", full.steps["players"][0])

		if err := older.MigrateAll(ctx); !errors.Is(err, shared.ErrMigration) {
			t.Errorf("expected ErrMigration for downgrade, got %v", err)
		}
	})

	t.Run("Register", func(t *testing.T) {
		r := NewRegistry(nil, nil)

		tc := []struct {
			name  string
			table string
			step  Step
		}{
			{name: "no table", table: "", step: Step{Version: 1, SQL: "SELECT 1"}},
			{name: "skips version", table: "t", step: Step{Version: 2, SQL: "SELECT 1"}},
			{name: "no body", table: "t", step: Step{Version: 1}},
			{name: "two bodies", table: "t", step: Step{Version: 1, SQL: "SELECT 1", Apply: addClaimColumns}},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if err := r.Register(tt.table, tt.step); !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
			})
		}
	})
}

func TestRemoveComments(t *testing.T) {
	in := `-- header
CREATE TABLE t (
    a INTEGER, -- trailing
    b TEXT
);`
	got := removeComments(in)
	if strings.Contains(got, "--") || strings.Contains(got, "header") || strings.Contains(got, "trailing") {
		t.Errorf("comments not removed: %q", got)
	}
	if !strings.Contains(got, "b TEXT") {
		t.Errorf("statement body lost: %q", got)
	}
}
