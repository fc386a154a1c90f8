package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/modstore/internal/shared"
)

// Now returns the current time at the millisecond precision the store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// PunishmentType names a kind of punishment. Valid names live in the punishment_types table.
type PunishmentType string

const (
	Ban  PunishmentType = "BAN"
	Kick PunishmentType = "KICK"
	Mute PunishmentType = "MUTE"
	Warn PunishmentType = "WARN"
	Jail PunishmentType = "JAIL"
)

// ParsePunishmentType normalizes s to upper case and rejects empty names.
func ParsePunishmentType(s string) (PunishmentType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty punishment type", shared.ErrInvalidInput)
	}
	return PunishmentType(s), nil
}

// Player is a player the server has seen.
type Player struct {
	UUID      string
	Username  string
	FirstSeen time.Time
	LastSeen  time.Time
	// Locale is empty when the player never chose one.
	Locale string
}

// NewPlayer creates a player first and last seen now.
func NewPlayer(uuid, username string) *Player {
	now := Now()
	return &Player{UUID: uuid, Username: username, FirstSeen: now, LastSeen: now}
}

// Validate checks that the player has a UUID and a username.
func (p *Player) Validate() error {
	if _, err := shared.ParseID(p.UUID); err != nil {
		return fmt.Errorf("%w: player uuid %q: %v", shared.ErrInvalidInput, p.UUID, err)
	}
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: player username is required", shared.ErrInvalidInput)
	}
	return nil
}

// Punishment is a moderation action against a player.
type Punishment struct {
	ID         string
	PlayerUUID string
	Type       PunishmentType
	// IssuerUUID is empty for actions taken by the console.
	IssuerUUID string
	Reason     string
	CreatedAt  time.Time
	// ExpiresAt is nil for permanent punishments.
	ExpiresAt *time.Time
	Active    bool
	// Extra holds JSON-compatible values. Numbers read back from the store are json.Number,
	// and storing a punishment converts its numbers the same way.
	Extra     map[string]any
}

// NewPunishment creates an active punishment with a generated ID.
//
// A zero duration makes the punishment permanent.
func NewPunishment(playerUUID string, kind PunishmentType, issuerUUID, reason string, duration time.Duration) *Punishment {
	now := Now()
	p := &Punishment{
		ID:         shared.GenerateID(),
		PlayerUUID: playerUUID,
		Type:       kind,
		IssuerUUID: issuerUUID,
		Reason:     reason,
		CreatedAt:  now,
		Active:     true,
		Extra:      map[string]any{},
	}
	if duration > 0 {
		expires := now.Add(duration)
		p.ExpiresAt = &expires
	}
	return p
}

// Permanent reports whether the punishment never expires.
func (p *Punishment) Permanent() bool { return p.ExpiresAt == nil }

// Expired reports whether the punishment has a deadline at or before now.
func (p *Punishment) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

func (p *Punishment) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: punishment id is required", shared.ErrInvalidInput)
	}
	if p.PlayerUUID == "" {
		return fmt.Errorf("%w: punishment player is required", shared.ErrInvalidInput)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: punishment type is required", shared.ErrInvalidInput)
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(p.CreatedAt) {
		return fmt.Errorf("%w: punishment expires before it was created", shared.ErrInvalidInput)
	}
	return nil
}

// StaffNote is a private remark staff left on a player.
type StaffNote struct {
	ID         string
	PlayerUUID string
	IssuerUUID string
	Message    string
	CreatedAt  time.Time
}

func NewStaffNote(playerUUID, issuerUUID, message string) *StaffNote {
	return &StaffNote{
		ID:         shared.GenerateID(),
		PlayerUUID: playerUUID,
		IssuerUUID: issuerUUID,
		Message:    message,
		CreatedAt:  Now(),
	}
}

func (n *StaffNote) Validate() error {
	if n.ID == "" || n.PlayerUUID == "" || n.IssuerUUID == "" {
		return fmt.Errorf("%w: note id, player and issuer are required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: note message is required", shared.ErrInvalidInput)
	}
	return nil
}

// PlayerRecord is everything stored about one player, as exported for review.
type PlayerRecord struct {
	Player      *Player
	Punishments []*Punishment
	Notes       []*StaffNote
}

// ServerIdentity identifies this server to the web panel.
type ServerIdentity struct {
	ServerID     string
	ServerSecret string
	Claimed      bool
	// ClaimToken is empty once claimed.
	ClaimToken string
}

// WebCommand records a web panel command that has been executed.
type WebCommand struct {
	ID          string
	ProcessedAt time.Time
}

// Counter is a named integer adjusted atomically.
type Counter struct {
	Name      string
	Value     int64
	UpdatedAt time.Time
}
