package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/modstore/internal/plugin"
	"github.com/desertthunder/modstore/internal/schema"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
	"github.com/desertthunder/modstore/internal/ui"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template if needed, then creates and migrates the store.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				r.logger.Warn("failed to create config file, using defaults", "error", err)
			} else if config, err := shared.LoadConfig(r.configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
			} else {
				r.config = config
			}
		}
	}

	r.logger.Info("initializing store", "path", r.config.Store.Path())

	err := r.withRegistry(ctx, func(_ *store.Manager, reg *schema.Registry) error {
		return reg.MigrateAll(ctx)
	})
	if err != nil {
		return err
	}

	r.writePlain("%s\n", ui.Styles().OK("✓ store ready"))
	r.writePlain("%s\n", ui.Styles().Help("Path: "+r.config.Store.Path()))
	return nil
}

// Migrate applies pending migrations to every table, or to --table up to --to.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	table := cmd.String("table")
	to := int(cmd.Int("to"))

	return r.withRegistry(ctx, func(_ *store.Manager, reg *schema.Registry) error {
		if table == "" {
			if to != 0 {
				return fmt.Errorf("%w: --to requires --table", shared.ErrInvalidArgument)
			}
			if err := reg.MigrateAll(ctx); err != nil {
				return err
			}
			return r.writePlain("%s\n", ui.Styles().OK("✓ all tables up to date"))
		}

		current, err := reg.CurrentVersion(ctx, table)
		if err != nil {
			return err
		}
		if to == 0 {
			to = reg.Latest(table)
		}
		if current == to {
			return r.writePlain("%s is already at version %d\n", table, current)
		}
		if err := reg.Migrate(ctx, table, current, to); err != nil {
			return err
		}
		return r.writePlain("%s\n", ui.Styles().OK(fmt.Sprintf("✓ %s migrated %d → %d", table, current, to)))
	})
}

// Status prints the on-disk and latest version of every table.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	return r.withRegistry(ctx, func(_ *store.Manager, reg *schema.Registry) error {
		statuses, err := reg.Status(ctx)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(statuses, true)
		}

		styles := ui.Styles()
		r.writePlainHeader("Schema status")
		for _, s := range statuses {
			state := styles.OK("up to date")
			if s.Pending() {
				state = styles.Warn(fmt.Sprintf("%d pending", s.Latest-s.Current))
			}
			r.writePlain("%-18s v%d / v%d  %s\n", s.Table, s.Current, s.Latest, state)
		}
		return nil
	})
}

// Flush checkpoints the write-ahead log.
func (r *Runner) Flush(ctx context.Context, cmd *cli.Command) error {
	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		if err := p.Flush(ctx); err != nil {
			return err
		}
		return r.writePlain("%s\n", ui.Styles().OK("✓ flushed"))
	})
}
