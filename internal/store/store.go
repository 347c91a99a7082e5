package store

import (
	"context"

	"github.com/vocalmail/vocalmail/internal/model"
)

// Store exposes persistence operations required by the ingest engine and
// the tool layer. Implementations live under internal/store/<driver>/.
type Store interface {
	Messages() Messages
	IngestJobs() IngestJobs
}

// Messages is the structured message store, keyed by provider message id.
// Upsert is idempotent: re-writing an existing id is a no-op.
type Messages interface {
	Upsert(ctx context.Context, m *model.Message) error
	Exists(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListRecent(ctx context.Context, limit int) ([]*model.Message, error)
	ListBySender(ctx context.Context, sender string, limit int) ([]*model.Message, error)
	ListIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// IngestJobs records ingest runs for operational visibility.
type IngestJobs interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Complete(ctx context.Context, jobID int64, recordsProcessed int) error
	Fail(ctx context.Context, jobID int64, errorMessage string) error
}
