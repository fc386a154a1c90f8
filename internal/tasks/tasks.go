package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/modstore/internal/models"
)

// RecordSource loads player records for export.
type RecordSource interface {
	PlayerUUIDs(ctx context.Context) ([]string, error)
	Record(ctx context.Context, playerUUID string) (*models.PlayerRecord, error)
}

// Exporter writes player records to disk with a bounded worker pool.
type Exporter struct {
	source RecordSource
	now    func() time.Time
}

// NewExporter creates an Exporter reading from source.
func NewExporter(source RecordSource) *Exporter {
	return &Exporter{source: source, now: models.Now}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Exporter) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
