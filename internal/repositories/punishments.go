package repositories

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/shared"
	"github.com/desertthunder/modstore/internal/store"
)

type punishmentMapper struct{}

func (punishmentMapper) Table() string { return "punishments" }

func (punishmentMapper) Columns() []string {
	return []string{"id", "player_uuid", "type", "issuer_uuid", "reason", "created_at", "expires_at", "active", "extra_data"}
}

func (punishmentMapper) ID(p *models.Punishment) string { return p.ID }

func (punishmentMapper) Encode(p *models.Punishment) ([]any, error) {
	extra := p.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra data: %w", err)
	}
	// The caller's record takes the shape a later read returns.
	if p.Extra, err = decodeExtra(data); err != nil {
		return nil, err
	}

	var expires sql.NullInt64
	if p.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: p.ExpiresAt.UnixMilli(), Valid: true}
	}

	return []any{
		p.ID,
		p.PlayerUUID,
		string(p.Type),
		sql.NullString{String: p.IssuerUUID, Valid: p.IssuerUUID != ""},
		p.Reason,
		p.CreatedAt.UnixMilli(),
		expires,
		p.Active,
		string(data),
	}, nil
}

func (punishmentMapper) Decode(scan func(dest ...any) error) (*models.Punishment, error) {
	var (
		p         models.Punishment
		kind      string
		issuer    sql.NullString
		createdAt int64
		expires   sql.NullInt64
		extra     string
	)
	if err := scan(&p.ID, &p.PlayerUUID, &kind, &issuer, &p.Reason, &createdAt, &expires, &p.Active, &extra); err != nil {
		return nil, err
	}

	p.Type = models.PunishmentType(kind)
	p.IssuerUUID = issuer.String
	p.CreatedAt = fromMillis(createdAt)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		p.ExpiresAt = &t
	}

	var err error
	if p.Extra, err = decodeExtra([]byte(extra)); err != nil {
		return nil, fmt.Errorf("%w: punishment %s extra data: %v", shared.ErrSerialization, p.ID, err)
	}
	return &p, nil
}

// decodeExtra unmarshals extra data keeping numbers as [json.Number].
func decodeExtra(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var extra map[string]any
	if err := dec.Decode(&extra); err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	return extra, nil
}

// PunishmentRepository stores moderation actions. Each punishment references a known player
// and a type from punishment_types.
type PunishmentRepository struct {
	*Repository[*models.Punishment]
}

func NewPunishmentRepository(coord *store.Coordinator) *PunishmentRepository {
	return &PunishmentRepository{NewRepository(coord, punishmentMapper{})}
}

// In returns a copy of the repository bound to tx.
func (r *PunishmentRepository) In(tx *store.Tx) *PunishmentRepository {
	return &PunishmentRepository{r.Repository.In(tx)}
}

// Issue records a new punishment.
func (r *PunishmentRepository) Issue(ctx context.Context, p *models.Punishment) error {
	return r.Put(ctx, p)
}

// History returns every punishment of the player, newest first.
func (r *PunishmentRepository) History(ctx context.Context, playerUUID string) ([]*models.Punishment, error) {
	items, err := Collect(r.query(ctx, "player_uuid = ?", "created_at DESC, id", nil, playerUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", playerUUID, err)
	}
	return items, nil
}

// Active returns the player's active, unexpired punishments of the given type, newest first.
// An empty type matches every type.
func (r *PunishmentRepository) Active(ctx context.Context, playerUUID string, kind models.PunishmentType) ([]*models.Punishment, error) {
	where := "player_uuid = ? AND active = 1 AND (expires_at IS NULL OR expires_at > ?)"
	args := []any{playerUUID, models.Now().UnixMilli()}
	if kind != "" {
		where += " AND type = ?"
		args = append(args, string(kind))
	}

	items, err := Collect(r.query(ctx, where, "created_at DESC, id", nil, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get active punishments of %s: %w", playerUUID, err)
	}
	return items, nil
}

// DeactivateByType lifts every active punishment of the given type and returns how many it lifted.
func (r *PunishmentRepository) DeactivateByType(ctx context.Context, playerUUID string, kind models.PunishmentType) (int, error) {
	var n int64
	err := r.write(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE punishments SET active = 0 WHERE player_uuid = ? AND type = ? AND active = 1",
			playerUUID, string(kind))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate %s punishments of %s: %w", kind, playerUUID, err)
	}
	return int(n), nil
}

// Deactivate lifts one punishment. It reports false if the punishment is unknown or already inactive.
func (r *PunishmentRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.write(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE punishments SET active = 0 WHERE id = ? AND active = 1", id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to deactivate punishment %s: %w", id, err)
	}
	return n > 0, nil
}

// ExpireDue deactivates every active punishment whose deadline is at or before now and returns them.
func (r *PunishmentRepository) ExpireDue(ctx context.Context, now time.Time) ([]*models.Punishment, error) {
	var expired []*models.Punishment
	err := r.write(ctx, func(tx *store.Tx) error {
		bound := r.Repository.In(tx)

		due, err := Collect(bound.query(ctx, "active = 1 AND expires_at IS NOT NULL AND expires_at <= ?",
			"expires_at, id", nil, now.UnixMilli()))
		if err != nil {
			return err
		}

		for _, p := range due {
			if _, err := tx.ExecContext(ctx, "UPDATE punishments SET active = 0 WHERE id = ?", p.ID); err != nil {
				return err
			}
			p.Active = false
		}
		expired = due
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire punishments: %w", err)
	}
	return expired, nil
}
