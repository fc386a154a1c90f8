// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func playerArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "player", UsageText: "username or uuid"}}
}

// setupCommand creates the config file and store.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, then create and migrate the store",
		Action: r.Setup,
	}
}

// migrateCommand applies pending schema migrations.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "table",
				Usage: "Migrate only this table",
			},
			&cli.IntFlag{
				Name:  "to",
				Usage: "Target version for --table (default: latest)",
			},
		},
		Action: r.Migrate,
	}
}

// statusCommand reports schema versions.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the schema version of every table",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

// flushCommand checkpoints the write-ahead log.
func flushCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "flush",
		Usage:  "Checkpoint the write-ahead log into the store file",
		Action: r.Flush,
	}
}

func playerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "player",
		Usage:     "Show a player and their active punishments",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Player,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List a player's punishments, newest first",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.History,
	}
}

func punishCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "punish",
		Usage:     "Issue a punishment",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Punishment type (BAN, KICK, MUTE, WARN, JAIL)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "reason",
				Aliases: []string{"r"},
				Usage:   "Reason shown to the player",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "How long it lasts (0 for permanent)",
			},
			&cli.StringFlag{
				Name:  "issuer",
				Usage: "UUID of the issuing staff member (default: console)",
			},
		},
		Action: r.Punish,
	}
}

func pardonCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "pardon",
		Usage:     "Lift a player's active punishments of one type",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Punishment type to lift",
				Required: true,
			},
		},
		Action: r.Pardon,
	}
}

func notesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "notes",
		Usage:     "List a player's staff notes, or add one with --add",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "add",
				Usage: "Note text to add",
			},
			&cli.StringFlag{
				Name:  "issuer",
				Usage: "UUID of the staff member adding the note",
			},
		},
		Action: r.Notes,
	}
}

// exportCommand writes a player's record to files for offline review.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a player's punishments and notes (csv, md, txt), or every player's with --all",
		Arguments: playerArg(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format: csv, md or txt",
				Value:   "txt",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output base path, or directory with --all",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Export every player into one directory with a manifest",
			},
		},
		Action: r.Export,
	}
}

func claimCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "claim",
		Usage:  "Show the server ID and the web panel claim token",
		Action: r.Claim,
	}
}

// browseCommand returns the interactive moderation browser.
func browseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"tui", "ui"},
		Usage:   "Browse players and punishments interactively",
		Action:  r.Browse,
	}
}
