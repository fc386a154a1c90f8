package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/repositories"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
	tu "github.com/desertthunder/modstore/internal/testing"
)

const steve = "00000000-0000-0000-0000-000000000001"

func testConfig(t *testing.T) shared.Config {
	return *tu.Config(t)
}

func enabled(t *testing.T, cfg shared.Config, events chan<- Event) *Plugin {
	t.Helper()
	p := New(cfg, nil, events)
	if err := p.Enable(context.Background()); err != nil {
		t.Fatalf("failed to enable: %v", err)
	}
	t.Cleanup(func() { p.Disable() })
	return p
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("EnableUseDisable", func(t *testing.T) {
		cfg := testConfig(t)
		p := enabled(t, cfg, nil)

		if p.State() != Enabled {
			t.Fatalf("expected enabled, got %s", p.State())
		}

		err := p.Use(ctx, func(repos *repositories.Set) error {
			_, err := repos.Players.GetOrCreate(ctx, steve, "Steve")
			return err
		})
		if err != nil {
			t.Fatalf("use failed: %v", err)
		}

		if err := p.Disable(); err != nil {
			t.Fatalf("disable failed: %v", err)
		}
		if p.State() != Disabled {
			t.Errorf("expected disabled, got %s", p.State())
		}

		err = p.Use(ctx, func(*repositories.Set) error { return nil })
		if !errors.Is(err, shared.ErrNotEnabled) {
			t.Errorf("expected ErrNotEnabled after disable, got %v", err)
		}

		// Data survives a restart of the same plugin.
		if err := p.Enable(ctx); err != nil {
			t.Fatalf("re-enable failed: %v", err)
		}
		err = p.Use(ctx, func(repos *repositories.Set) error {
			_, found, err := repos.Players.Get(ctx, steve)
			if err == nil && !found {
				err = errors.New("player lost across restart")
			}
			return err
		})
		if err != nil {
			t.Error(err)
		}
	})

	t.Run("DisableWhenNotEnabled", func(t *testing.T) {
		p := New(testConfig(t), nil, nil)
		for i := 0; i < 2; i++ {
			if err := p.Disable(); err != nil {
				t.Errorf("disable %d should be a no-op, got %v", i+1, err)
			}
		}
	})

	t.Run("EnableTwice", func(t *testing.T) {
		p := enabled(t, testConfig(t), nil)
		if err := p.Enable(ctx); !errors.Is(err, shared.ErrAlreadyEnabled) {
			t.Errorf("expected ErrAlreadyEnabled, got %v", err)
		}
	})

	t.Run("UseBeforeEnable", func(t *testing.T) {
		p := New(testConfig(t), nil, nil)
		err := p.Use(ctx, func(*repositories.Set) error { return nil })
		if !errors.Is(err, shared.ErrNotEnabled) {
			t.Errorf("expected ErrNotEnabled, got %v", err)
		}
		if err := p.Flush(ctx); !errors.Is(err, shared.ErrNotEnabled) {
			t.Errorf("flush: expected ErrNotEnabled, got %v", err)
		}
	})

	t.Run("EnableFailsWhenLocked", func(t *testing.T) {
		cfg := testConfig(t)

		other, err := store.Open(store.ConfigFrom(cfg.Store), nil)
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		defer other.Close()

		events := make(chan Event, 8)
		p := New(cfg, nil, events)
		if err := p.Enable(ctx); !errors.Is(err, shared.ErrStoreLocked) {
			t.Fatalf("expected ErrStoreLocked, got %v", err)
		}
		if p.State() != Disabled {
			t.Errorf("expected disabled after failed enable, got %s", p.State())
		}

		var states []State
		for len(events) > 0 {
			ev := <-events
			if ev.Kind == StateChanged {
				states = append(states, ev.State)
			}
		}
		if len(states) != 2 || states[0] != Enabling || states[1] != Disabled {
			t.Errorf("expected enabling then disabled, got %v", states)
		}

		// Once the other owner lets go the plugin can enable.
		other.Close()
		if err := p.Enable(ctx); err != nil {
			t.Fatalf("enable after release failed: %v", err)
		}
		p.Disable()
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.FileName = ""

		p := New(cfg, nil, nil)
		if err := p.Enable(ctx); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if p.State() != Disabled {
			t.Errorf("expected disabled, got %s", p.State())
		}
	})
}

func TestUse(t *testing.T) {
	ctx := context.Background()

	t.Run("RecoversPanic", func(t *testing.T) {
		p := enabled(t, testConfig(t), nil)

		err := p.Use(ctx, func(*repositories.Set) error { panic("kaboom") })
		if err == nil {
			t.Fatal("expected panic to become an error")
		}
		if p.State() != Enabled {
			t.Errorf("panic should not change state, got %s", p.State())
		}

		// Disable must not wait on the panicked call.
		if err := p.Disable(); err != nil {
			t.Errorf("disable failed: %v", err)
		}
	})

	t.Run("UseTxIsAtomic", func(t *testing.T) {
		p := enabled(t, testConfig(t), nil)

		boom := errors.New("boom")
		err := p.UseTx(ctx, func(repos *repositories.Set) error {
			if _, err := repos.Players.GetOrCreate(ctx, steve, "Steve"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		var n int
		err = p.Use(ctx, func(repos *repositories.Set) (err error) {
			n, err = repos.Players.Count(ctx)
			return err
		})
		if err != nil || n != 0 {
			t.Errorf("expected rolled back player, count=%d err=%v", n, err)
		}
	})

	t.Run("UseTxRecoversPanic", func(t *testing.T) {
		p := enabled(t, testConfig(t), nil)

		err := p.UseTx(ctx, func(repos *repositories.Set) error {
			if _, err := repos.Players.GetOrCreate(ctx, steve, "Steve"); err != nil {
				return err
			}
			panic("kaboom")
		})
		if err == nil {
			t.Fatal("expected panic to become an error")
		}

		// The writer was released by the rollback.
		err = p.UseTx(ctx, func(repos *repositories.Set) error {
			_, err := repos.Counters.Increment(ctx, "cases", 1)
			return err
		})
		if err != nil {
			t.Errorf("writer still held after panic: %v", err)
		}
	})

	t.Run("DisableWaitsForInflight", func(t *testing.T) {
		p := New(testConfig(t), nil, nil)
		if err := p.Enable(ctx); err != nil {
			t.Fatalf("failed to enable: %v", err)
		}

		started := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			p.Use(ctx, func(repos *repositories.Set) error {
				close(started)
				time.Sleep(50 * time.Millisecond)
				_, err := repos.Counters.Increment(ctx, "cases", 1)
				close(finished)
				return err
			})
		}()

		<-started
		if err := p.Disable(); err != nil {
			t.Fatalf("disable failed: %v", err)
		}
		select {
		case <-finished:
		default:
			t.Error("disable returned before the in-flight call finished")
		}
	})
}

func TestBackgroundTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("SweepExpiresOnce", func(t *testing.T) {
		events := make(chan Event, 16)
		p := enabled(t, testConfig(t), events)

		err := p.Use(ctx, func(repos *repositories.Set) error {
			if _, err := repos.Players.GetOrCreate(ctx, steve, "Steve"); err != nil {
				return err
			}
			mute := models.NewPunishment(steve, models.Mute, "", "spam", time.Minute)
			mute.CreatedAt = mute.CreatedAt.Add(-time.Hour)
			past := models.Now().Add(-time.Second)
			mute.ExpiresAt = &past
			return repos.Punishments.Issue(ctx, mute)
		})
		if err != nil {
			t.Fatalf("failed to seed: %v", err)
		}

		for i := 0; i < 2; i++ {
			if err := p.sweep(ctx); err != nil {
				t.Fatalf("sweep %d failed: %v", i+1, err)
			}
		}

		var expired int
		for len(events) > 0 {
			if ev := <-events; ev.Kind == Expired {
				expired += len(ev.Expired)
			}
		}
		if expired != 1 {
			t.Errorf("expected one expiry event entry, got %d", expired)
		}
	})

	t.Run("Flush", func(t *testing.T) {
		events := make(chan Event, 16)
		p := enabled(t, testConfig(t), events)

		if err := p.flush(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
		if err := p.Flush(ctx); err != nil {
			t.Fatalf("public flush failed: %v", err)
		}

		var flushed bool
		for len(events) > 0 {
			if ev := <-events; ev.Kind == Flushed && ev.Err == nil {
				flushed = true
			}
		}
		if !flushed {
			t.Error("expected a flushed event")
		}
	})

	t.Run("LoopsStopOnDisable", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.FlushIntervalSeconds = 1
		cfg.Store.ExpirySweepSeconds = 1
		p := New(cfg, nil, nil)

		if err := p.Enable(ctx); err != nil {
			t.Fatalf("failed to enable: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- p.Disable() }()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("disable failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("disable did not stop the background loops")
		}
	})
}

func TestStateString(t *testing.T) {
	tc := []struct {
		state State
		want  string
	}{
		{Disabled, "disabled"},
		{Enabling, "enabling"},
		{Enabled, "enabled"},
		{Disabling, "disabling"},
		{State(9), "State(9)"},
	}
	for _, tt := range tc {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
