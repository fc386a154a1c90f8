package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/modstore/internal/formatter"
	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/plugin"
	"github.com/desertthunder/modstore/internal/repositories"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/tasks"
	"github.com/desertthunder/modstore/internal/ui"
	"github.com/urfave/cli/v3"
)

const timeLayout = "2006-01-02 15:04"

// punishmentView is the JSON shape of a punishment.
type punishmentView struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Issuer    string         `json:"issuer,omitempty"`
	Reason    string         `json:"reason"`
	CreatedAt string         `json:"created_at"`
	ExpiresAt string         `json:"expires_at,omitempty"`
	Status    string         `json:"status"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func newPunishmentView(p *models.Punishment) punishmentView {
	v := punishmentView{
		ID:        p.ID,
		Type:      string(p.Type),
		Issuer:    p.IssuerUUID,
		Reason:    p.Reason,
		CreatedAt: p.CreatedAt.Local().Format(timeLayout),
		Status:    ui.Status(p, models.Now()),
		Extra:     p.Extra,
	}
	if p.ExpiresAt != nil {
		v.ExpiresAt = p.ExpiresAt.Local().Format(timeLayout)
	}
	return v
}

// Player shows a player with their active punishments.
func (r *Runner) Player(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		return p.Use(ctx, func(repos *repositories.Set) error {
			player, err := resolvePlayer(ctx, repos, ref)
			if err != nil {
				return err
			}
			active, err := repos.Punishments.Active(ctx, player.UUID, "")
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				views := make([]punishmentView, 0, len(active))
				for _, a := range active {
					views = append(views, newPunishmentView(a))
				}
				return r.writeJSON(map[string]any{
					"uuid":       player.UUID,
					"username":   player.Username,
					"first_seen": player.FirstSeen.Local().Format(timeLayout),
					"last_seen":  player.LastSeen.Local().Format(timeLayout),
					"locale":     player.Locale,
					"active":     views,
				}, true)
			}

			r.writePlainHeader(player.Username)
			r.writePlain("UUID:       %s\n", player.UUID)
			r.writePlain("First seen: %s\n", player.FirstSeen.Local().Format(timeLayout))
			r.writePlain("Last seen:  %s\n", player.LastSeen.Local().Format(timeLayout))
			if player.Locale != "" {
				r.writePlain("Locale:     %s\n", player.Locale)
			}

			if len(active) == 0 {
				return r.writePlainln("%s", ui.Styles().OK("No active punishments"))
			}
			r.writePlainln("%s", ui.Styles().Warn(fmt.Sprintf("%d active punishment(s):", len(active))))
			for _, a := range active {
				r.writePlain("  • %s %s: %s\n", a.Type, ui.Status(a, models.Now()), a.Reason)
			}
			return nil
		})
	})
}

// History lists every punishment of a player.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		return p.Use(ctx, func(repos *repositories.Set) error {
			player, err := resolvePlayer(ctx, repos, ref)
			if err != nil {
				return err
			}
			history, err := repos.Punishments.History(ctx, player.UUID)
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				views := make([]punishmentView, 0, len(history))
				for _, h := range history {
					views = append(views, newPunishmentView(h))
				}
				return r.writeJSON(views, cmd.Bool("pretty"))
			}

			r.writePlainHeader(fmt.Sprintf("History of %s (%d)", player.Username, len(history)))
			for _, h := range history {
				v := newPunishmentView(h)
				r.writePlain("%s  %-5s %-22s %s\n", v.CreatedAt, v.Type, v.Status, v.Reason)
			}
			return nil
		})
	})
}

// Punish issues a punishment and numbers it with the next case number.
func (r *Runner) Punish(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")
	kind, err := models.ParsePunishmentType(cmd.String("type"))
	if err != nil {
		return err
	}
	issuer := cmd.String("issuer")
	if issuer != "" {
		if issuer, err = shared.ParseID(issuer); err != nil {
			return fmt.Errorf("%w: --issuer: %v", shared.ErrInvalidArgument, err)
		}
	}
	duration := cmd.Duration("duration")
	if duration < 0 {
		return fmt.Errorf("%w: --duration must not be negative", shared.ErrInvalidArgument)
	}

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		var (
			issued *models.Punishment
			caseNo int64
		)
		err := p.UseTx(ctx, func(repos *repositories.Set) error {
			player, err := resolvePlayer(ctx, repos, ref)
			if err != nil {
				return err
			}
			if caseNo, err = repos.Counters.Increment(ctx, "cases", 1); err != nil {
				return err
			}

			issued = models.NewPunishment(player.UUID, kind, issuer, cmd.String("reason"), duration)
			issued.Extra["case"] = caseNo
			return repos.Punishments.Issue(ctx, issued)
		})
		if err != nil {
			return err
		}

		return r.writePlain("%s\n", ui.Styles().OK(fmt.Sprintf("✓ case #%d: %s issued (%s)", caseNo, kind, ui.Status(issued, models.Now()))))
	})
}

// Pardon lifts a player's active punishments of one type.
func (r *Runner) Pardon(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")
	kind, err := models.ParsePunishmentType(cmd.String("type"))
	if err != nil {
		return err
	}

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		return p.Use(ctx, func(repos *repositories.Set) error {
			player, err := resolvePlayer(ctx, repos, ref)
			if err != nil {
				return err
			}
			n, err := repos.Punishments.DeactivateByType(ctx, player.UUID, kind)
			if err != nil {
				return err
			}
			if n == 0 {
				return r.writePlain("%s\n", ui.Styles().Warn(fmt.Sprintf("%s has no active %s", player.Username, kind)))
			}
			return r.writePlain("%s\n", ui.Styles().OK(fmt.Sprintf("✓ lifted %d %s from %s", n, kind, player.Username)))
		})
	})
}

// Notes lists a player's staff notes, or adds one.
func (r *Runner) Notes(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")
	text := strings.TrimSpace(cmd.String("add"))

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		return p.Use(ctx, func(repos *repositories.Set) error {
			player, err := resolvePlayer(ctx, repos, ref)
			if err != nil {
				return err
			}

			if text != "" {
				issuer, err := shared.ParseID(cmd.String("issuer"))
				if err != nil {
					return fmt.Errorf("%w: --issuer is required with --add: %v", shared.ErrMissingArgument, err)
				}
				if err := repos.Notes.Add(ctx, models.NewStaffNote(player.UUID, issuer, text)); err != nil {
					return err
				}
				return r.writePlain("%s\n", ui.Styles().OK("✓ note added"))
			}

			notes, err := repos.Notes.ForPlayer(ctx, player.UUID)
			if err != nil {
				return err
			}
			r.writePlainHeader(fmt.Sprintf("Notes on %s (%d)", player.Username, len(notes)))
			for _, n := range notes {
				r.writePlain("%s  %s\n", n.CreatedAt.Local().Format(timeLayout), n.Message)
			}
			return nil
		})
	})
}

// Export writes a player's punishments and notes to files, or every player's with --all.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("player")
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		source := pluginSource{plugin: p}
		if cmd.Bool("all") {
			return r.exportAll(ctx, source, format, cmd.String("output"))
		}

		var player *models.Player
		err := p.Use(ctx, func(repos *repositories.Set) (err error) {
			player, err = resolvePlayer(ctx, repos, ref)
			return err
		})
		if err != nil {
			return err
		}
		record, err := source.Record(ctx, player.UUID)
		if err != nil {
			return err
		}

		files, err := formatter.Write(record, format, cmd.String("output"), models.Now())
		if err != nil {
			return err
		}

		r.writePlain("%s\n", ui.Styles().OK(fmt.Sprintf("✓ exported %s", player.Username)))
		for _, f := range files {
			r.writePlain("  %s\n", f)
		}
		return nil
	})
}

func (r *Runner) exportAll(ctx context.Context, source pluginSource, format formatter.Format, dir string) error {
	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Debug(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()

	result, err := tasks.NewExporter(source).BulkExport(ctx, progress, tasks.BulkExportOpts{
		Format:    format,
		OutputDir: dir,
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	styles := ui.Styles()
	r.writePlain("%s\n", styles.OK(fmt.Sprintf("✓ exported %d of %d players", result.SuccessfulExports, result.TotalPlayers)))
	for _, res := range result.Results {
		if !res.Success {
			r.writePlain("  %s\n", styles.Err(fmt.Sprintf("%s: %v", res.PlayerUUID, res.Error)))
		}
	}
	return r.writePlain("Manifest: %s\n", result.ManifestPath)
}

// Claim prints the server identity and, until claimed, the claim token.
func (r *Runner) Claim(ctx context.Context, cmd *cli.Command) error {
	return r.withPlugin(ctx, func(p *plugin.Plugin) error {
		return p.Use(ctx, func(repos *repositories.Set) error {
			id, err := repos.Identity.GetOrGenerate(ctx)
			if err != nil {
				return err
			}
			token, err := repos.Identity.ClaimToken(ctx)
			if err != nil {
				return err
			}

			r.writePlain("Server ID: %s\n", id.ServerID)
			if token == "" {
				return r.writePlain("%s\n", ui.Styles().OK("✓ claimed"))
			}
			return r.writePlain("Claim token: %s\n", token)
		})
	})
}
