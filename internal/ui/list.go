package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/modstore/internal/models"
)

var (
	_ list.Item = playerItem{}
	_ list.Item = punishmentItem{}
)

const timeLayout = "2006-01-02 15:04"

// playerItem wraps [models.Player] to implement [list.Item].
type playerItem struct {
	player *models.Player
}

func (i playerItem) FilterValue() string { return i.player.Username }
func (i playerItem) Title() string       { return i.player.Username }
func (i playerItem) Description() string {
	desc := fmt.Sprintf("last seen %s", i.player.LastSeen.Local().Format(timeLayout))
	if i.player.Locale != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.player.Locale)
	}
	return desc
}

// punishmentItem wraps [models.Punishment] to implement [list.Item].
type punishmentItem struct {
	punishment *models.Punishment
	now        time.Time
}

func (i punishmentItem) FilterValue() string { return i.punishment.Reason }
func (i punishmentItem) Title() string {
	return fmt.Sprintf("%s • %s", i.punishment.Type, Status(i.punishment, i.now))
}
func (i punishmentItem) Description() string {
	desc := i.punishment.CreatedAt.Local().Format(timeLayout)
	if i.punishment.Reason != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.punishment.Reason)
	}
	return desc
}

// Status describes whether p is still in force at now.
func Status(p *models.Punishment, now time.Time) string {
	switch {
	case !p.Active:
		return "lifted"
	case p.Expired(now):
		return "expired"
	case p.Permanent():
		return "permanent"
	default:
		return fmt.Sprintf("until %s", p.ExpiresAt.Local().Format(timeLayout))
	}
}
