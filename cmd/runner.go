package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/plugin"
	"github.com/desertthunder/modstore/internal/repositories"
	"github.com/desertthunder/modstore/internal/schema"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, migrateCommand, statusCommand, flushCommand,
		playerCommand, historyCommand, punishCommand, pardonCommand, notesCommand,
		exportCommand, claimCommand, browseCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// withPlugin enables the storage plugin for the duration of fn, exactly as the server would.
func (r *Runner) withPlugin(ctx context.Context, fn func(p *plugin.Plugin) error) (err error) {
	cfg := *r.config
	cfg.Store.FlushIntervalSeconds = 0
	cfg.Store.ExpirySweepSeconds = 0

	p := plugin.New(cfg, r.logger, nil)
	if err := p.Enable(ctx); err != nil {
		return err
	}
	defer func() {
		if disableErr := p.Disable(); disableErr != nil {
			err = multierror.Append(err, disableErr)
		}
	}()

	return fn(p)
}

// withRegistry opens the store without migrating it and passes its schema registry to fn.
func (r *Runner) withRegistry(ctx context.Context, fn func(m *store.Manager, reg *schema.Registry) error) (err error) {
	m, err := store.Open(store.ConfigFrom(r.config.Store), r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}()

	reg, err := schema.Load(m.Coordinator(), r.logger)
	if err != nil {
		return err
	}
	return fn(m, reg)
}

// resolvePlayer finds a player by UUID or, failing that, by username.
func resolvePlayer(ctx context.Context, repos *repositories.Set, ref string) (*models.Player, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: player name or uuid", shared.ErrMissingArgument)
	}

	var (
		player *models.Player
		found  bool
		err    error
	)
	if id, parseErr := shared.ParseID(ref); parseErr == nil {
		player, found, err = repos.Players.Get(ctx, id)
	} else {
		player, found, err = repos.Players.FindByUsername(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: player %s", shared.ErrNotFound, ref)
	}
	return player, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
