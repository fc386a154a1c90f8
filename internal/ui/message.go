package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/modstore/internal/models"
)

// MsgKind enumerates all message types in the browser.
type MsgKind int

// Msg represents all possible messages in the browser (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlayersFetched MsgKind = iota
	MsgHistoryFetched
	MsgLifted
)

type playersResult struct {
	players []*models.Player
	err     error
}

type historyResult struct {
	player  *models.Player
	history []*models.Punishment
	err     error
}

type liftResult struct {
	id     string
	lifted bool
	err    error
}

// playersFetchedMsg is the constructor for [MsgPlayersFetched]
func playersFetchedMsg(players []*models.Player, err error) Msg {
	return Msg{kind: MsgPlayersFetched, data: playersResult{players, err}}
}

// historyFetchedMsg is the constructor for [MsgHistoryFetched]
func historyFetchedMsg(player *models.Player, history []*models.Punishment, err error) Msg {
	return Msg{kind: MsgHistoryFetched, data: historyResult{player, history, err}}
}

// liftedMsg is the constructor for [MsgLifted]
func liftedMsg(id string, lifted bool, err error) Msg {
	return Msg{kind: MsgLifted, data: liftResult{id, lifted, err}}
}
