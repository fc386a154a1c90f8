package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

type playerMapper struct{}

func (playerMapper) Table() string { return "players" }

func (playerMapper) Columns() []string {
	return []string{"uuid", "username", "first_seen", "last_seen", "locale"}
}

func (playerMapper) ID(p *models.Player) string { return p.UUID }

func (playerMapper) Encode(p *models.Player) ([]any, error) {
	return []any{
		p.UUID,
		p.Username,
		p.FirstSeen.UnixMilli(),
		p.LastSeen.UnixMilli(),
		sql.NullString{String: p.Locale, Valid: p.Locale != ""},
	}, nil
}

func (playerMapper) Decode(scan func(dest ...any) error) (*models.Player, error) {
	var (
		p                   models.Player
		firstSeen, lastSeen int64
		locale              sql.NullString
	)
	if err := scan(&p.UUID, &p.Username, &firstSeen, &lastSeen, &locale); err != nil {
		return nil, err
	}
	p.FirstSeen = fromMillis(firstSeen)
	p.LastSeen = fromMillis(lastSeen)
	p.Locale = locale.String
	return &p, nil
}

// PlayerRepository stores players keyed by UUID.
type PlayerRepository struct {
	*Repository[*models.Player]
}

func NewPlayerRepository(coord *store.Coordinator) *PlayerRepository {
	return &PlayerRepository{NewRepository(coord, playerMapper{})}
}

// In returns a copy of the repository bound to tx.
func (r *PlayerRepository) In(tx *store.Tx) *PlayerRepository {
	return &PlayerRepository{r.Repository.In(tx)}
}

// GetOrCreate records that the player was seen now and returns the stored record.
//
// A known player keeps its first-seen time and locale; its username is refreshed.
func (r *PlayerRepository) GetOrCreate(ctx context.Context, uuid, username string) (*models.Player, error) {
	var player *models.Player
	err := r.write(ctx, func(tx *store.Tx) error {
		bound := r.Repository.In(tx)

		existing, found, err := bound.Get(ctx, uuid)
		if err != nil {
			return err
		}

		if found {
			existing.Username = username
			existing.LastSeen = models.Now()
			player = existing
		} else {
			player = models.NewPlayer(uuid, username)
		}
		return bound.Put(ctx, player)
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// FindByUsername returns the most recently seen player with the given name, ignoring case.
func (r *PlayerRepository) FindByUsername(ctx context.Context, username string) (*models.Player, bool, error) {
	p, found, err := first(r.query(ctx, "username = ? COLLATE NOCASE", "last_seen DESC", nil, username))
	if err != nil {
		return nil, false, fmt.Errorf("failed to find player %s: %w", username, err)
	}
	return p, found, nil
}

// SetLocale stores the player's language preference. An empty locale clears it.
func (r *PlayerRepository) SetLocale(ctx context.Context, uuid, locale string) error {
	err := r.write(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE players SET locale = NULLIF(?, '') WHERE uuid = ?", locale, uuid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: player %s", shared.ErrNotFound, uuid)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set locale: %w", err)
	}
	return nil
}

// Locale returns the player's language preference, if one was set.
func (r *PlayerRepository) Locale(ctx context.Context, uuid string) (string, bool, error) {
	p, found, err := r.Get(ctx, uuid)
	if err != nil || !found || p.Locale == "" {
		return "", false, err
	}
	return p.Locale, true, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
