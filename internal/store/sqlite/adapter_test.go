package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/store"
	"github.com/vocalmail/vocalmail/internal/store/storetest"
)

func TestSqliteStore_Compliance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "emails.db"))
	require.NoError(t, err)
	return st
}

func testMessage(id string, receivedAt time.Time) *model.Message {
	return &model.Message{
		ID:         id,
		ThreadID:   "thread-1",
		Subject:    "Quarterly report",
		BodyText:   "The numbers are in. See attached.",
		Snippet:    "The numbers are in.",
		FromName:   "Ana Silva",
		FromEmail:  "ana@example.com",
		ToName:     "Me",
		ToEmail:    "me@example.com",
		ReceivedAt: receivedAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMessages_UpsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now())
	require.NoError(t, st.Messages().Upsert(ctx, msg))

	got, err := st.Messages().GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.Equal(t, "ana@example.com", got.FromEmail)
	assert.Equal(t, "thread-1", got.ThreadID)

	exists, err := st.Messages().Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.Messages().Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMessages_UpsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now())
	require.NoError(t, st.Messages().Upsert(ctx, msg))

	dup := testMessage("m1", time.Now())
	dup.Subject = "Changed subject"
	require.NoError(t, st.Messages().Upsert(ctx, dup))

	n, err := st.Messages().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// First write wins; a duplicate id never rewrites the row.
	got, err := st.Messages().GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got.Subject)
}

func TestMessages_GetByID_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Messages().GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMessages_ListRecentOrdersNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		m := testMessage(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, st.Messages().Upsert(ctx, m))
	}

	got, err := st.Messages().ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestMessages_ListBySenderMatchesNameAndAddress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ana := testMessage("a1", base)
	require.NoError(t, st.Messages().Upsert(ctx, ana))

	bob := testMessage("b1", base.Add(time.Hour))
	bob.FromName = "Bob Jones"
	bob.FromEmail = "bob@corp.io"
	require.NoError(t, st.Messages().Upsert(ctx, bob))

	// Partial address match, case insensitive.
	got, err := st.Messages().ListBySender(ctx, "BOB@", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)

	// Partial name match.
	got, err = st.Messages().ListBySender(ctx, "ana sil", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	got, err = st.Messages().ListBySender(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMessages_ListIDsAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Messages().Upsert(ctx, testMessage("m1", base)))
	require.NoError(t, st.Messages().Upsert(ctx, testMessage("m2", base.Add(time.Minute))))

	ids, err := st.Messages().ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	require.NoError(t, st.Messages().Delete(ctx, "m1"))
	n, err := st.Messages().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestJobs_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	jobID, err := st.IngestJobs().Start(ctx, "mailbox_sync")
	require.NoError(t, err)
	require.NotZero(t, jobID)

	require.NoError(t, st.IngestJobs().Complete(ctx, jobID, 42))

	failedID, err := st.IngestJobs().Start(ctx, "mailbox_sync")
	require.NoError(t, err)
	require.NoError(t, st.IngestJobs().Fail(ctx, failedID, "provider unreachable"))
	assert.NotEqual(t, jobID, failedID)
}
