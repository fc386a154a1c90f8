package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/store"
)

type webCommandMapper struct{}

func (webCommandMapper) Table() string { return "web_commands_log" }

func (webCommandMapper) Columns() []string { return []string{"id", "processed_at"} }

func (webCommandMapper) ID(c *models.WebCommand) string { return c.ID }

func (webCommandMapper) Encode(c *models.WebCommand) ([]any, error) {
	return []any{c.ID, c.ProcessedAt.UnixMilli()}, nil
}

func (webCommandMapper) Decode(scan func(dest ...any) error) (*models.WebCommand, error) {
	var (
		c  models.WebCommand
		at int64
	)
	if err := scan(&c.ID, &at); err != nil {
		return nil, err
	}
	c.ProcessedAt = fromMillis(at)
	return &c, nil
}

// WebCommandRepository remembers which web panel commands already ran.
type WebCommandRepository struct {
	*Repository[*models.WebCommand]
}

func NewWebCommandRepository(coord *store.Coordinator) *WebCommandRepository {
	return &WebCommandRepository{NewRepository(coord, webCommandMapper{})}
}

// In returns a copy of the repository bound to tx.
func (r *WebCommandRepository) In(tx *store.Tx) *WebCommandRepository {
	return &WebCommandRepository{r.Repository.In(tx)}
}

// Processed reports whether the command was already marked processed.
func (r *WebCommandRepository) Processed(ctx context.Context, id string) (bool, error) {
	_, found, err := r.Get(ctx, id)
	return found, err
}

// MarkProcessed records the command. Marking it again keeps the first processing time.
func (r *WebCommandRepository) MarkProcessed(ctx context.Context, id string) error {
	err := r.write(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO web_commands_log (id, processed_at) VALUES (?, ?)", id, models.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark command %s processed: %w", id, err)
	}
	return nil
}

// Prune forgets commands processed before cutoff and returns how many it removed.
func (r *WebCommandRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := r.write(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM web_commands_log WHERE processed_at < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune web commands: %w", err)
	}
	return int(n), nil
}
