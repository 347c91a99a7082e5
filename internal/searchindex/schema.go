package searchindex

import (
	"context"
	"fmt"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// BootstrapWeaviate ensures the EmailMessage class exists with vectorizer
// disabled; vectors are supplied at write time by the ingestion engine.
func BootstrapWeaviate(ctx context.Context, baseURL string) error {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msg := &models.Class{
		Class:      className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "messageId", DataType: []string{"text"}},
			{Name: "threadId", DataType: []string{"text"}},
			{Name: "subject", DataType: []string{"text"}},
			{Name: "body", DataType: []string{"text"}},
			{Name: "snippet", DataType: []string{"text"}},
			{Name: "fromName", DataType: []string{"text"}},
			{Name: "fromEmail", DataType: []string{"text"}},
			{Name: "receivedAt", DataType: []string{"date"}},
		},
	}

	if err := ensureClass(cctx, cl, msg); err != nil {
		return fmt.Errorf("bootstrap EmailMessage: %w", err)
	}
	return nil
}

func ensureClass(ctx context.Context, cl *weaviate.Client, desired *models.Class) error {
	ex, err := cl.Schema().ClassGetter().WithClassName(desired.Class).Do(ctx)
	if err == nil && ex != nil {
		return nil
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", desired.Class, err)
	}
	return nil
}
