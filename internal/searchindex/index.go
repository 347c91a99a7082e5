package searchindex

import (
	"context"

	"github.com/vocalmail/vocalmail/internal/model"
)

// Index provides vector search and index maintenance over email messages.
// Objects are keyed by the provider message id; UpsertMessage with an id
// already present is a no-op so re-ingestion stays idempotent.
type Index interface {
	UpsertMessage(ctx context.Context, messageID string, vec []float32, payload map[string]interface{}) error
	Search(ctx context.Context, query string, vec []float32, topK int) ([]model.SearchHit, error)
	Exists(ctx context.Context, messageID string) (bool, error)
	Count(ctx context.Context) (int, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// HealthPinger is optionally implemented by an Index to expose specialized
// health check logic. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
