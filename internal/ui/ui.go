package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/modstore/internal/models"
)

// ViewState represents the current view in the browser.
type ViewState int

const (
	PlayerListView ViewState = iota
	HistoryView
	ConfirmView
)

// Source is the store as the browser sees it.
type Source interface {
	Players(ctx context.Context) ([]*models.Player, error)
	History(ctx context.Context, playerUUID string) ([]*models.Punishment, error)
	Lift(ctx context.Context, punishmentID string) (bool, error)
}

// Model represents the browser state.
type Model struct {
	ctx        context.Context
	source     Source
	view       ViewState
	width      int
	height     int
	playerList list.Model
	history    list.Model
	player     *models.Player
	selected   *models.Punishment
	status     string
	err        error
	help       help.Model
	keys       keyMap
	now        func() time.Time
}

// NewModel creates a browser over source.
func NewModel(ctx context.Context, source Source) *Model {
	return &Model{
		ctx:        ctx,
		source:     source,
		view:       PlayerListView,
		playerList: newList("Players"),
		history:    newList("History"),
		help:       help.New(),
		keys:       newKeyMap(),
		now:        models.Now,
	}
}

func newList(title string) list.Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	return l
}

// ViewState returns the view being shown.
func (m *Model) ViewState() ViewState { return m.view }

// Init initializes the browser by loading the players.
func (m *Model) Init() tea.Cmd {
	return m.fetchPlayers()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.playerList.SetSize(msg.Width-4, msg.Height-8)
		m.history.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlayerListView:
			return m.handlePlayerListKeys(msg)
		case HistoryView:
			return m.handleHistoryKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch data := msg.data.(type) {
	case playersResult:
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(data.players))
		for i, p := range data.players {
			items[i] = playerItem{player: p}
		}
		return m, m.playerList.SetItems(items)

	case historyResult:
		if data.err != nil {
			m.err = data.err
			m.view = PlayerListView
			return m, nil
		}
		m.err = nil
		m.player = data.player
		now := m.now()
		items := make([]list.Item, len(data.history))
		for i, p := range data.history {
			items[i] = punishmentItem{punishment: p, now: now}
		}
		m.history.Title = fmt.Sprintf("History of %s", data.player.Username)
		m.view = HistoryView
		return m, m.history.SetItems(items)

	case liftResult:
		m.selected = nil
		m.view = HistoryView
		switch {
		case data.err != nil:
			m.err = data.err
			return m, nil
		case data.lifted:
			m.status = styles.OK("✓ punishment lifted")
		default:
			m.status = styles.Warn("punishment was already inactive")
		}
		return m, m.fetchHistory(m.player)
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.Err(fmt.Sprintf("Error: %v", m.err)) + "\n\n" + m.help.ShortHelpView([]key.Binding{m.keys.reload, m.keys.quit})
	}

	switch m.view {
	case PlayerListView:
		return m.renderPlayerList()
	case HistoryView:
		return m.renderHistory()
	case ConfirmView:
		return m.renderConfirm()
	default:
		return ""
	}
}

func (m *Model) handlePlayerListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.playerList.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.reload):
		m.err = nil
		return m, m.fetchPlayers()
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.playerList.SelectedItem().(playerItem); ok {
			m.status = ""
			return m, m.fetchHistory(item.player)
		}
		return m, nil
	}

	return m.updateLists(msg)
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.history.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = PlayerListView
		m.status = ""
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.err = nil
		return m, m.fetchHistory(m.player)
	case key.Matches(msg, m.keys.lift):
		if item, ok := m.history.SelectedItem().(punishmentItem); ok && item.punishment.Active {
			m.selected = item.punishment
			m.view = ConfirmView
		}
		return m, nil
	}

	return m.updateLists(msg)
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		return m, m.lift(m.selected.ID)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.selected = nil
		m.view = HistoryView
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlayerListView:
		m.playerList, cmd = m.playerList.Update(msg)
	case HistoryView:
		m.history, cmd = m.history.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPlayers() tea.Cmd {
	return func() tea.Msg {
		players, err := m.source.Players(m.ctx)
		return playersFetchedMsg(players, err)
	}
}

func (m *Model) fetchHistory(player *models.Player) tea.Cmd {
	return func() tea.Msg {
		history, err := m.source.History(m.ctx, player.UUID)
		return historyFetchedMsg(player, history, err)
	}
}

func (m *Model) lift(id string) tea.Cmd {
	return func() tea.Msg {
		lifted, err := m.source.Lift(m.ctx, id)
		return liftedMsg(id, lifted, err)
	}
}

func (m *Model) renderPlayerList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.reload, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.playerList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderHistory() string {
	helpKeys := []key.Binding{m.keys.lift, m.keys.back, m.keys.quit}
	view := m.history.View()
	if m.status != "" {
		view = fmt.Sprintf("%s\n%s", view, m.status)
	}
	return fmt.Sprintf("%s\n\n%s", view, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	p := m.selected
	title := styles.Title(fmt.Sprintf("Lift %s of %s?", p.Type, m.player.Username))
	info := fmt.Sprintf("\nReason: %s\nIssued: %s\nStatus: %s\n",
		p.Reason, p.CreatedAt.Local().Format(timeLayout), Status(p, m.now()))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}
