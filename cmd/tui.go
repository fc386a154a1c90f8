package main

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/plugin"
	"github.com/desertthunder/modstore/internal/repositories"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/tasks"
	"github.com/desertthunder/modstore/internal/ui"
	"github.com/urfave/cli/v3"
)

// pluginSource serves the browser from an enabled plugin.
type pluginSource struct {
	plugin *plugin.Plugin
}

var (
	_ ui.Source          = pluginSource{}
	_ tasks.RecordSource = pluginSource{}
)

func (s pluginSource) Players(ctx context.Context) (players []*models.Player, err error) {
	err = s.plugin.Use(ctx, func(repos *repositories.Set) error {
		players, err = repositories.Collect(repos.Players.Scan(ctx, nil))
		return err
	})
	return players, err
}

func (s pluginSource) History(ctx context.Context, playerUUID string) (history []*models.Punishment, err error) {
	err = s.plugin.Use(ctx, func(repos *repositories.Set) error {
		history, err = repos.Punishments.History(ctx, playerUUID)
		return err
	})
	return history, err
}

func (s pluginSource) Lift(ctx context.Context, punishmentID string) (lifted bool, err error) {
	err = s.plugin.Use(ctx, func(repos *repositories.Set) error {
		lifted, err = repos.Punishments.Deactivate(ctx, punishmentID)
		return err
	})
	return lifted, err
}

func (s pluginSource) PlayerUUIDs(ctx context.Context) (uuids []string, err error) {
	err = s.plugin.Use(ctx, func(repos *repositories.Set) error {
		for player, err := range repos.Players.Scan(ctx, nil) {
			if err != nil {
				return err
			}
			uuids = append(uuids, player.UUID)
		}
		return nil
	})
	return uuids, err
}

func (s pluginSource) Record(ctx context.Context, playerUUID string) (*models.PlayerRecord, error) {
	record := &models.PlayerRecord{}
	err := s.plugin.Use(ctx, func(repos *repositories.Set) error {
		player, found, err := repos.Players.Get(ctx, playerUUID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: player %s", shared.ErrNotFound, playerUUID)
		}
		record.Player = player
		if record.Punishments, err = repos.Punishments.History(ctx, playerUUID); err != nil {
			return err
		}
		record.Notes, err = repos.Notes.ForPlayer(ctx, playerUUID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Browse launches the interactive moderation browser.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	// Log lines would tear the alt-screen rendering.
	r.logger.SetOutput(io.Discard)

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		model := ui.NewModel(ctx, pluginSource{plugin: p})
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

		if _, err := program.Run(); err != nil {
			return fmt.Errorf("error running browser: %w", err)
		}
		return nil
	})
}
