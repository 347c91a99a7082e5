package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msg := func(i int, name, email string) *model.Message {
		return &model.Message{
			ID:         fmt.Sprintf("suite-m%d", i),
			Subject:    fmt.Sprintf("subject %d", i),
			BodyText:   "body text",
			Snippet:    "body text",
			FromName:   name,
			FromEmail:  email,
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}

	// Upsert + GetByID
	m1 := msg(1, "Ana Silva", "ana@example.com")
	if err := s.Messages().Upsert(ctx, m1); err != nil {
		t.Fatalf("Upsert m1: %v", err)
	}
	got, err := s.Messages().GetByID(ctx, m1.ID)
	if err != nil || got == nil || got.Subject != "subject 1" {
		t.Fatalf("GetByID m1: got=%v err=%v", got, err)
	}

	// Idempotent upsert: re-writing the same id keeps the first row.
	dup := msg(1, "Ana Silva", "ana@example.com")
	dup.Subject = "rewritten"
	if err := s.Messages().Upsert(ctx, dup); err != nil {
		t.Fatalf("Upsert dup: %v", err)
	}
	got, err = s.Messages().GetByID(ctx, m1.ID)
	if err != nil || got.Subject != "subject 1" {
		t.Fatalf("GetByID after dup upsert: got=%v err=%v", got, err)
	}
	if n, err := s.Messages().Count(ctx); err != nil || n != 1 {
		t.Fatalf("Count after dup upsert: n=%d err=%v", n, err)
	}

	// Exists
	if ok, err := s.Messages().Exists(ctx, m1.ID); err != nil || !ok {
		t.Fatalf("Exists m1: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Messages().Exists(ctx, "suite-missing"); err != nil || ok {
		t.Fatalf("Exists missing: ok=%v err=%v", ok, err)
	}

	// GetByID missing id maps to ErrNotFound
	if _, err := s.Messages().GetByID(ctx, "suite-missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetByID missing: err=%v", err)
	}

	// ListRecent: newest first, bounded by limit
	if err := s.Messages().Upsert(ctx, msg(2, "Bob Jones", "bob@corp.io")); err != nil {
		t.Fatalf("Upsert m2: %v", err)
	}
	if err := s.Messages().Upsert(ctx, msg(3, "Ana Silva", "ana@example.com")); err != nil {
		t.Fatalf("Upsert m3: %v", err)
	}
	recent, err := s.Messages().ListRecent(ctx, 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("ListRecent: n=%d err=%v", len(recent), err)
	}
	if recent[0].ID != "suite-m3" || recent[1].ID != "suite-m2" {
		t.Fatalf("ListRecent order: got %s, %s", recent[0].ID, recent[1].ID)
	}

	// ListBySender: case-insensitive substring over name and address
	byName, err := s.Messages().ListBySender(ctx, "ANA", 10)
	if err != nil || len(byName) != 2 {
		t.Fatalf("ListBySender name: n=%d err=%v", len(byName), err)
	}
	byAddr, err := s.Messages().ListBySender(ctx, "corp.io", 10)
	if err != nil || len(byAddr) != 1 || byAddr[0].ID != "suite-m2" {
		t.Fatalf("ListBySender addr: n=%d err=%v", len(byAddr), err)
	}

	// ListIDs covers every stored message
	ids, err := s.Messages().ListIDs(ctx)
	if err != nil || len(ids) != 3 {
		t.Fatalf("ListIDs: n=%d err=%v", len(ids), err)
	}

	// Delete
	if err := s.Messages().Delete(ctx, "suite-m2"); err != nil {
		t.Fatalf("Delete m2: %v", err)
	}
	if ok, err := s.Messages().Exists(ctx, "suite-m2"); err != nil || ok {
		t.Fatalf("Exists after delete: ok=%v err=%v", ok, err)
	}

	// Ingest job lifecycle
	jobID, err := s.IngestJobs().Start(ctx, "mailbox_sync")
	if err != nil || jobID == 0 {
		t.Fatalf("job Start: id=%d err=%v", jobID, err)
	}
	if err := s.IngestJobs().Complete(ctx, jobID, 3); err != nil {
		t.Fatalf("job Complete: %v", err)
	}
	failedID, err := s.IngestJobs().Start(ctx, "mailbox_sync")
	if err != nil {
		t.Fatalf("job Start 2: %v", err)
	}
	if err := s.IngestJobs().Fail(ctx, failedID, "provider unreachable"); err != nil {
		t.Fatalf("job Fail: %v", err)
	}
}
