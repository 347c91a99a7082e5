// Package ingest copies mailbox messages from the upstream provider into
// the structured store and the vector index.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/embeddings"
	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/provider"
	"github.com/vocalmail/vocalmail/internal/searchindex"
	"github.com/vocalmail/vocalmail/internal/store"
)

const jobTypeSync = "mailbox_sync"

// Engine drains the provider page by page and keeps the two local copies
// of each message in step: structured row first, index object second.
type Engine struct {
	provider provider.MailProvider
	store    store.Store
	index    searchindex.Index
	embedder embeddings.Provider
	log      zerolog.Logger

	maxMessages int
	pageSize    int
	interval    time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
}

// Config carries the ingestion limits.
type Config struct {
	MaxMessages int
	PageSize    int
	Interval    time.Duration
}

func New(cfg Config, p provider.MailProvider, st store.Store, idx searchindex.Index, emb embeddings.Provider, log zerolog.Logger) *Engine {
	return &Engine{
		provider:    p,
		store:       st,
		index:       idx,
		embedder:    emb,
		log:         log.With().Str("component", "ingest").Logger(),
		maxMessages: cfg.MaxMessages,
		pageSize:    cfg.PageSize,
		interval:    cfg.Interval,
		backoffMin:  2 * time.Second,
		backoffMax:  30 * time.Second,
	}
}

// RunIngest executes one full sync cycle: repair any messages present in
// the store but missing from the index, then fetch recent messages from
// the provider up to maxMessages and land the new ones in both copies.
func (e *Engine) RunIngest(ctx context.Context) (*model.IngestBatch, error) {
	batch := &model.IngestBatch{RequestedCount: e.maxMessages}

	jobID, err := e.store.IngestJobs().Start(ctx, jobTypeSync)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to record ingest job; continuing")
	}

	finish := func(b *model.IngestBatch, runErr error) (*model.IngestBatch, error) {
		if jobID != 0 {
			if runErr != nil {
				_ = e.store.IngestJobs().Fail(ctx, jobID, runErr.Error())
			} else {
				_ = e.store.IngestJobs().Complete(ctx, jobID, b.NewCount)
			}
		}
		return b, runErr
	}

	if err := e.backfillIndex(ctx, batch); err != nil {
		return finish(batch, err)
	}

	raws, err := e.fetchRecent(ctx)
	if err != nil {
		return finish(batch, err)
	}

	for _, raw := range raws {
		batch.FetchedIDs = append(batch.FetchedIDs, raw.ID)

		exists, err := e.store.Messages().Exists(ctx, raw.ID)
		if err != nil {
			return finish(batch, err)
		}
		if exists {
			batch.DuplicateCount++
			continue
		}
		if err := e.indexMessage(ctx, raw.Normalize()); err != nil {
			e.log.Error().Err(err).Str("message_id", raw.ID).Msg("message ingest failed")
			batch.FailedIDs = append(batch.FailedIDs, raw.ID)
			continue
		}
		batch.NewCount++
	}

	e.log.Info().
		Int("fetched", len(batch.FetchedIDs)).
		Int("new", batch.NewCount).
		Int("duplicates", batch.DuplicateCount).
		Int("backfilled", len(batch.BackfilledIDs)).
		Int("failed", len(batch.FailedIDs)).
		Msg("ingest cycle complete")
	return finish(batch, nil)
}

// fetchRecent walks provider pages newest first until maxMessages have
// accumulated or the mailbox is exhausted. Pages are requested at full
// pageSize and the overshoot from the last page is dropped.
func (e *Engine) fetchRecent(ctx context.Context) ([]provider.RawMessage, error) {
	var all []provider.RawMessage
	cursor := ""
	for len(all) < e.maxMessages {
		page, err := e.provider.ListPage(ctx, cursor, e.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)
		if page.NextCursor == "" || len(page.Messages) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	if len(all) > e.maxMessages {
		all = all[:e.maxMessages]
	}
	return all, nil
}

// backfillIndex re-indexes stored messages that never made it into the
// vector index, typically because a previous cycle died between the
// store write and the index write.
func (e *Engine) backfillIndex(ctx context.Context, batch *model.IngestBatch) error {
	ids, err := e.store.Messages().ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		indexed, err := e.index.Exists(ctx, id)
		if err != nil {
			return err
		}
		if indexed {
			continue
		}
		m, err := e.store.Messages().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := e.upsertIndex(ctx, m); err != nil {
			e.log.Error().Err(err).Str("message_id", id).Msg("index backfill failed")
			batch.FailedIDs = append(batch.FailedIDs, id)
			continue
		}
		batch.BackfilledIDs = append(batch.BackfilledIDs, id)
	}
	return nil
}

// indexMessage lands one new message: store row first so the message is
// never searchable without being listable, then the index object.
func (e *Engine) indexMessage(ctx context.Context, m *model.Message) error {
	if err := e.store.Messages().Upsert(ctx, m); err != nil {
		return err
	}
	return e.upsertIndex(ctx, m)
}

func (e *Engine) upsertIndex(ctx context.Context, m *model.Message) error {
	text := m.Subject + "\n" + m.BodyText
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"messageId":  m.ID,
		"threadId":   m.ThreadID,
		"subject":    m.Subject,
		"body":       m.BodyText,
		"snippet":    m.Snippet,
		"fromName":   m.FromName,
		"fromEmail":  m.FromEmail,
		"receivedAt": m.ReceivedAt.UTC().Format(time.RFC3339),
	}
	return e.index.UpsertMessage(ctx, m.ID, vec, payload)
}

// Run executes sync cycles until the context is cancelled. With a zero
// interval it runs a single cycle and returns.
func (e *Engine) Run(ctx context.Context) error {
	if e.interval <= 0 {
		_, err := e.RunIngest(ctx)
		return err
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", e.interval).Msg("ingest loop started")

	backoff := e.backoffMin
	for {
		if _, err := e.RunIngest(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.log.Info().Err(err).Msg("context cancelled, shutting down ingest loop")
				return err
			}
			e.log.Error().Err(err).Dur("sleep", backoff).Msg("cycle error, backing off")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < e.backoffMax {
				backoff *= 2
				if backoff > e.backoffMax {
					backoff = e.backoffMax
				}
			}
		} else {
			backoff = e.backoffMin
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.log.Info().Msg("ingest loop shutting down")
			return ctx.Err()
		}
	}
}
