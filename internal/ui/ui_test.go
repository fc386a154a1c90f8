package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/modstore/internal/models"
)

type fakeSource struct {
	players   []*models.Player
	history   map[string][]*models.Punishment
	lifted    []string
	playerErr error
}

func (f *fakeSource) Players(context.Context) ([]*models.Player, error) {
	return f.players, f.playerErr
}

func (f *fakeSource) History(_ context.Context, uuid string) ([]*models.Punishment, error) {
	return f.history[uuid], nil
}

func (f *fakeSource) Lift(_ context.Context, id string) (bool, error) {
	for _, list := range f.history {
		for _, p := range list {
			if p.ID == id && p.Active {
				p.Active = false
				f.lifted = append(f.lifted, id)
				return true, nil
			}
		}
	}
	return false, nil
}

func newFake() *fakeSource {
	steve := models.NewPlayer("00000000-0000-0000-0000-000000000001", "Steve")
	ban := models.NewPunishment(steve.UUID, models.Ban, "", "griefing", 0)
	return &fakeSource{
		players: []*models.Player{steve},
		history: map[string][]*models.Punishment{steve.UUID: {ban}},
	}
}

// run feeds msg to m and then every message its commands produce, one level deep per call.
func run(t *testing.T, m *Model, msg tea.Msg) {
	t.Helper()
	_, cmd := m.Update(msg)
	for cmd != nil {
		next := cmd()
		if _, ok := next.(Msg); !ok {
			return
		}
		_, cmd = m.Update(next)
	}
}

func keyPress(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

func TestModel(t *testing.T) {
	ctx := context.Background()

	t.Run("BrowseAndLift", func(t *testing.T) {
		src := newFake()
		m := NewModel(ctx, src)
		m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
		run(t, m, m.Init()())

		if got := len(m.playerList.Items()); got != 1 {
			t.Fatalf("expected 1 player, got %d", got)
		}

		run(t, m, keyPress("enter"))
		if m.ViewState() != HistoryView {
			t.Fatalf("expected history view, got %d", m.ViewState())
		}
		if !strings.Contains(m.history.Title, "Steve") {
			t.Errorf("history title should name the player: %q", m.history.Title)
		}

		run(t, m, keyPress("d"))
		if m.ViewState() != ConfirmView {
			t.Fatalf("expected confirm view, got %d", m.ViewState())
		}
		if !strings.Contains(m.View(), "Lift BAN of Steve?") {
			t.Errorf("unexpected confirm view: %q", m.View())
		}

		run(t, m, keyPress("y"))
		if len(src.lifted) != 1 {
			t.Fatalf("expected one lift, got %v", src.lifted)
		}
		if m.ViewState() != HistoryView {
			t.Errorf("expected history view after lift, got %d", m.ViewState())
		}

		// An inactive punishment cannot be lifted again.
		run(t, m, keyPress("d"))
		if m.ViewState() != HistoryView {
			t.Errorf("lifted punishment should not open confirm, got %d", m.ViewState())
		}

		run(t, m, keyPress("esc"))
		if m.ViewState() != PlayerListView {
			t.Errorf("expected player list, got %d", m.ViewState())
		}
	})

	t.Run("CancelConfirm", func(t *testing.T) {
		src := newFake()
		m := NewModel(ctx, src)
		m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
		run(t, m, m.Init()())
		run(t, m, keyPress("enter"))
		run(t, m, keyPress("d"))
		run(t, m, keyPress("n"))

		if m.ViewState() != HistoryView {
			t.Errorf("expected history view, got %d", m.ViewState())
		}
		if len(src.lifted) != 0 {
			t.Errorf("cancel should not lift, got %v", src.lifted)
		}
	})

	t.Run("LoadError", func(t *testing.T) {
		src := newFake()
		src.playerErr = errors.New("store busy")
		m := NewModel(ctx, src)
		run(t, m, m.Init()())

		if !strings.Contains(m.View(), "store busy") {
			t.Errorf("expected error in view, got %q", m.View())
		}
	})
}

func TestStatus(t *testing.T) {
	now := models.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tc := []struct {
		name string
		p    models.Punishment
		want string
	}{
		{name: "lifted", p: models.Punishment{Active: false}, want: "lifted"},
		{name: "permanent", p: models.Punishment{Active: true}, want: "permanent"},
		{name: "expired", p: models.Punishment{Active: true, ExpiresAt: &past}, want: "expired"},
		{name: "running", p: models.Punishment{Active: true, ExpiresAt: &future}, want: "until "},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(&tt.p, now); !strings.HasPrefix(got, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
