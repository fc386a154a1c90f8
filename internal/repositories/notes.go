package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/store"
)

type noteMapper struct{}

func (noteMapper) Table() string { return "staff_notes" }

func (noteMapper) Columns() []string {
	return []string{"id", "player_uuid", "issuer_uuid", "message", "created_at"}
}

func (noteMapper) ID(n *models.StaffNote) string { return n.ID }

func (noteMapper) Encode(n *models.StaffNote) ([]any, error) {
	return []any{n.ID, n.PlayerUUID, n.IssuerUUID, n.Message, n.CreatedAt.UnixMilli()}, nil
}

func (noteMapper) Decode(scan func(dest ...any) error) (*models.StaffNote, error) {
	var (
		n         models.StaffNote
		createdAt int64
	)
	if err := scan(&n.ID, &n.PlayerUUID, &n.IssuerUUID, &n.Message, &createdAt); err != nil {
		return nil, err
	}
	n.CreatedAt = fromMillis(createdAt)
	return &n, nil
}

// NoteRepository stores staff notes.
type NoteRepository struct {
	*Repository[*models.StaffNote]
}

func NewNoteRepository(coord *store.Coordinator) *NoteRepository {
	return &NoteRepository{NewRepository(coord, noteMapper{})}
}

// In returns a copy of the repository bound to tx.
func (r *NoteRepository) In(tx *store.Tx) *NoteRepository {
	return &NoteRepository{r.Repository.In(tx)}
}

func (r *NoteRepository) Add(ctx context.Context, n *models.StaffNote) error {
	return r.Put(ctx, n)
}

// ForPlayer returns the player's notes, newest first.
func (r *NoteRepository) ForPlayer(ctx context.Context, playerUUID string) ([]*models.StaffNote, error) {
	notes, err := Collect(r.query(ctx, "player_uuid = ?", "created_at DESC, id", nil, playerUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to get notes of %s: %w", playerUUID, err)
	}
	return notes, nil
}
