package plugin

import "github.com/desertthunder/modstore/internal/models"

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	StateChanged EventKind = iota // State holds the new state
	Flushed                       // Err is set if the checkpoint failed
	Expired                       // Expired lists the punishments the sweep lifted
)

// Event is a notification from the plugin to the host, e.g. to tell a player their mute ended.
type Event struct {
	Kind    EventKind
	State   State
	Expired []*models.Punishment
	Err     error
}

// send delivers ev without blocking. Events are dropped when the channel is full.
func (p *Plugin) send(ev Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
