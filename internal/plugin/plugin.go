// Package plugin connects the store to the host server's enable and disable hooks.
//
// A [Plugin] owns the store for as long as it is enabled: it opens the files, migrates the
// schema, runs the periodic flush and expiry sweep, and hands host code a repository
// [repositories.Set] through [Plugin.Use]. Nothing else in the process holds a store handle.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/repositories"
	"github.com/desertthunder/modstore/internal/schema"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

// State is a lifecycle state of the plugin.
type State int

const (
	Disabled State = iota
	Enabling
	Enabled
	Disabling
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Plugin is the storage side of the moderation plugin.
type Plugin struct {
	cfg    shared.Config
	logger *log.Logger
	events chan<- Event

	// lifecycle serializes Enable and Disable.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	state    State
	manager  *store.Manager
	repos    *repositories.Set
	inflight sync.WaitGroup

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns a disabled plugin for cfg. Events, if non-nil, receives lifecycle and background
// task notifications; sends never block.
func New(cfg shared.Config, logger *log.Logger, events chan<- Event) *Plugin {
	return &Plugin{
		cfg:    cfg,
		logger: shared.ComponentLogger(logger, "plugin"),
		events: events,
	}
}

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Enable opens and migrates the store, then starts the background tasks.
//
// On failure everything opened so far is closed again and the plugin stays disabled.
func (p *Plugin) Enable(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if s := p.State(); s != Disabled {
		return fmt.Errorf("%w: plugin is %s", shared.ErrAlreadyEnabled, s)
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	p.setState(Enabling)

	manager, err := store.Open(store.ConfigFrom(p.cfg.Store), p.logger)
	if err != nil {
		p.setState(Disabled)
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := p.migrate(ctx, manager); err != nil {
		if closeErr := manager.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		p.setState(Disabled)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	group, loopCtx := errgroup.WithContext(loopCtx)

	p.mu.Lock()
	p.manager = manager
	p.repos = repositories.NewSet(manager.Coordinator())
	p.cancel = cancel
	p.group = group
	p.mu.Unlock()

	if interval := p.cfg.Store.FlushInterval(); interval > 0 {
		group.Go(func() error { return p.every(loopCtx, interval, p.flush) })
	}
	if interval := p.cfg.Store.ExpirySweep(); interval > 0 {
		group.Go(func() error { return p.every(loopCtx, interval, p.sweep) })
	}

	p.setState(Enabled)
	p.logger.Info("storage enabled", "path", manager.Path())
	return nil
}

// Disable waits for in-flight [Plugin.Use] calls, stops the background tasks, flushes and
// closes the store. It does nothing unless the plugin is enabled.
func (p *Plugin) Disable() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() != Enabled {
		return nil
	}
	p.setState(Disabling)

	p.inflight.Wait()

	p.cancel()
	var result error
	if err := p.group.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.manager.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close store: %w", err))
	}

	p.mu.Lock()
	p.manager, p.repos, p.cancel, p.group = nil, nil, nil, nil
	p.mu.Unlock()

	p.setState(Disabled)
	p.logger.Info("storage disabled")
	return result
}

// Use runs fn with the plugin's repositories. Each repository call inside fn is its own
// transaction; use [Plugin.UseTx] to group calls.
//
// Use fails with [shared.ErrNotEnabled] unless the plugin is enabled. A panic inside fn is
// returned as an error.
func (p *Plugin) Use(ctx context.Context, fn func(*repositories.Set) error) (err error) {
	repos, _, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.inflight.Done()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in storage callback: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(repos)
}

// UseTx runs fn with repositories bound to one write transaction, committed if fn returns nil.
func (p *Plugin) UseTx(ctx context.Context, fn func(*repositories.Set) error) (err error) {
	repos, manager, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.inflight.Done()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in storage callback: %v", r)
		}
	}()

	return manager.Coordinator().WithTransaction(ctx, func(tx *store.Tx) error {
		return fn(repos.In(tx))
	})
}

// Flush checkpoints the write-ahead log into the main store file.
func (p *Plugin) Flush(ctx context.Context) error {
	_, manager, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.inflight.Done()
	return manager.Checkpoint(ctx)
}

// acquire registers an in-flight call. The caller must call p.inflight.Done on success.
func (p *Plugin) acquire() (*repositories.Set, *store.Manager, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != Enabled {
		return nil, nil, fmt.Errorf("%w: plugin is %s", shared.ErrNotEnabled, p.state)
	}
	p.inflight.Add(1)
	return p.repos, p.manager, nil
}

func (p *Plugin) migrate(ctx context.Context, manager *store.Manager) error {
	registry, err := schema.Load(manager.Coordinator(), p.logger)
	if err != nil {
		return err
	}
	if err := registry.MigrateAll(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	return nil
}

func (p *Plugin) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()

	p.logger.Debug("state changed", "from", prev, "to", s)
	p.send(Event{Kind: StateChanged, State: s})
}

// every runs task each interval until ctx is done. Task failures are logged, not returned.
func (p *Plugin) every(ctx context.Context, interval time.Duration, task func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := task(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("background task failed", "error", err)
			}
		}
	}
}

func (p *Plugin) flush(ctx context.Context) error {
	p.mu.RLock()
	manager := p.manager
	p.mu.RUnlock()
	if manager == nil {
		return nil
	}

	err := manager.Checkpoint(ctx)
	p.send(Event{Kind: Flushed, Err: err})
	return err
}

func (p *Plugin) sweep(ctx context.Context) error {
	p.mu.RLock()
	repos := p.repos
	p.mu.RUnlock()
	if repos == nil {
		return nil
	}

	expired, err := repos.Punishments.ExpireDue(ctx, models.Now())
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		p.logger.Info("expired punishments", "count", len(expired))
		p.send(Event{Kind: Expired, Expired: expired})
	}
	return nil
}
