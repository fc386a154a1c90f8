package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/store"
)

// Set bundles the repositories of one store.
type Set struct {
	Players     *PlayerRepository
	Punishments *PunishmentRepository
	Notes       *NoteRepository
	Identity    *IdentityRepository
	WebCommands *WebCommandRepository
	Counters    *CounterRepository
}

func NewSet(coord *store.Coordinator) *Set {
	return &Set{
		Players:     NewPlayerRepository(coord),
		Punishments: NewPunishmentRepository(coord),
		Notes:       NewNoteRepository(coord),
		Identity:    NewIdentityRepository(coord),
		WebCommands: NewWebCommandRepository(coord),
		Counters:    NewCounterRepository(coord),
	}
}

// In returns a copy of the set with every repository bound to tx.
func (s *Set) In(tx *store.Tx) *Set {
	return &Set{
		Players:     s.Players.In(tx),
		Punishments: s.Punishments.In(tx),
		Notes:       s.Notes.In(tx),
		Identity:    s.Identity.In(tx),
		WebCommands: s.WebCommands.In(tx),
		Counters:    s.Counters.In(tx),
	}
}

type counterMapper struct{}

func (counterMapper) Table() string { return "counters" }

func (counterMapper) Columns() []string { return []string{"name", "value", "updated_at"} }

func (counterMapper) ID(c *models.Counter) string { return c.Name }

func (counterMapper) Encode(c *models.Counter) ([]any, error) {
	return []any{c.Name, c.Value, c.UpdatedAt.UnixMilli()}, nil
}

func (counterMapper) Decode(scan func(dest ...any) error) (*models.Counter, error) {
	var (
		c  models.Counter
		at int64
	)
	if err := scan(&c.Name, &c.Value, &at); err != nil {
		return nil, err
	}
	c.UpdatedAt = fromMillis(at)
	return &c, nil
}

// CounterRepository keeps named counters, such as the next case number.
type CounterRepository struct {
	*Repository[*models.Counter]
}

func NewCounterRepository(coord *store.Coordinator) *CounterRepository {
	return &CounterRepository{NewRepository(coord, counterMapper{})}
}

// In returns a copy of the repository bound to tx.
func (r *CounterRepository) In(tx *store.Tx) *CounterRepository {
	return &CounterRepository{r.Repository.In(tx)}
}

// Increment atomically adds delta to the named counter, creating it at zero, and returns
// the new value.
func (r *CounterRepository) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	var value int64
	err := r.write(ctx, func(tx *store.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO counters (name, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at
			RETURNING value`,
			name, delta, models.Now().UnixMilli()).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// Value returns the counter's current value, or 0 if it was never incremented.
func (r *CounterRepository) Value(ctx context.Context, name string) (int64, error) {
	c, found, err := r.Get(ctx, name)
	if err != nil || !found {
		return 0, err
	}
	return c.Value, nil
}
