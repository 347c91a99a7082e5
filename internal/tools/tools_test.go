package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/store"
	"github.com/vocalmail/vocalmail/internal/store/sqlite"
	"github.com/vocalmail/vocalmail/internal/transport"
)

// fakeIndex returns scripted hits for any query.
type fakeIndex struct {
	hits []model.SearchHit
	err  error
}

func (f *fakeIndex) UpsertMessage(context.Context, string, []float32, map[string]interface{}) error {
	return nil
}
func (f *fakeIndex) Search(context.Context, string, []float32, int) ([]model.SearchHit, error) {
	return f.hits, f.err
}
func (f *fakeIndex) Exists(context.Context, string) (bool, error) { return false, nil }
func (f *fakeIndex) Count(context.Context) (int, error)           { return len(f.hits), nil }
func (f *fakeIndex) DeleteMessage(context.Context, string) error  { return nil }

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

func newTestRegistry(t *testing.T, idx *fakeIndex) (*Registry, store.Store, *transport.Sink) {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "emails.db"))
	require.NoError(t, err)
	sink := transport.NewSink()
	if idx == nil {
		idx = &fakeIndex{}
	}
	reg := NewRegistry(st, idx, &fakeEmbedder{}, sink, zerolog.Nop())
	return reg, st, sink
}

func seedMessages(t *testing.T, st store.Store) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	senders := []struct{ name, email string }{
		{"Ana Silva", "ana@example.com"},
		{"Bob Jones", "bob@corp.io"},
		{"Ana Silva", "ana@example.com"},
	}
	for i, s := range senders {
		require.NoError(t, st.Messages().Upsert(context.Background(), &model.Message{
			ID:         fmt.Sprintf("m%d", i+1),
			Subject:    fmt.Sprintf("subject %d", i+1),
			BodyText:   "hello there",
			Snippet:    "hello there",
			FromName:   s.name,
			FromEmail:  s.email,
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
}

func call(name string, args any) model.ToolCall {
	raw, _ := json.Marshal(args)
	return model.ToolCall{CallID: "call-1", TurnID: "turn-1", Name: name, Arguments: raw}
}

func TestDispatch_UnknownToolReturnsErrorResult(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), call("delete_all_emails", map[string]string{}))
	assert.Equal(t, model.ToolStatusError, res.Status)
	assert.Equal(t, "call-1", res.CallID)
	assert.Contains(t, res.Payload, model.ErrProtocol.Error())
	assert.Contains(t, res.Payload, "unknown tool")
}

func TestDispatch_IndexFailureReportsStoreUnavailable(t *testing.T) {
	idx := &fakeIndex{err: fmt.Errorf("connection refused")}
	reg, _, _ := newTestRegistry(t, idx)

	res := reg.Dispatch(context.Background(), call(ToolSearchEmails, map[string]any{"query": "invoices"}))
	assert.Equal(t, model.ToolStatusError, res.Status)
	assert.Contains(t, res.Payload, model.ErrStoreUnavailable.Error())
}

func TestDispatch_SearchEmails(t *testing.T) {
	older := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	idx := &fakeIndex{hits: []model.SearchHit{
		{MessageID: "low", Subject: "low score", ReceivedAt: newer, Score: 0.2},
		{MessageID: "tie-old", Subject: "tie old", ReceivedAt: older, Score: 0.8},
		{MessageID: "tie-new", Subject: "tie new", ReceivedAt: newer, Score: 0.8},
	}}
	reg, _, _ := newTestRegistry(t, idx)

	res := reg.Dispatch(context.Background(), call(ToolSearchEmails, map[string]any{"query": "invoices"}))
	require.Equal(t, model.ToolStatusOK, res.Status)

	// Ranked by score descending, ties broken newest first.
	first := indexInPayload(t, res.Payload, "tie new")
	second := indexInPayload(t, res.Payload, "tie old")
	third := indexInPayload(t, res.Payload, "low score")
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func indexInPayload(t *testing.T, payload, needle string) int {
	t.Helper()
	i := strings.Index(payload, needle)
	require.GreaterOrEqual(t, i, 0, "payload missing %q:\n%s", needle, payload)
	return i
}

func TestDispatch_SearchEmailsRequiresQuery(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), call(ToolSearchEmails, map[string]any{"query": "  "}))
	assert.Equal(t, model.ToolStatusError, res.Status)
}

func TestDispatch_SearchEmailsBySender(t *testing.T) {
	reg, st, _ := newTestRegistry(t, nil)
	seedMessages(t, st)

	res := reg.Dispatch(context.Background(), call(ToolSearchEmailsBySender, map[string]any{"sender": "ana"}))
	require.Equal(t, model.ToolStatusOK, res.Status)
	assert.Contains(t, res.Payload, "Ana Silva <ana@example.com>")
	assert.NotContains(t, res.Payload, "bob@corp.io")
}

func TestDispatch_GetRecentEmails(t *testing.T) {
	reg, st, _ := newTestRegistry(t, nil)
	seedMessages(t, st)

	res := reg.Dispatch(context.Background(), call(ToolGetRecentEmails, map[string]any{"limit": 2}))
	require.Equal(t, model.ToolStatusOK, res.Status)
	// Newest two of the three seeded messages.
	assert.Contains(t, res.Payload, "subject 3")
	assert.Contains(t, res.Payload, "subject 2")
	assert.NotContains(t, res.Payload, "subject 1")
}

func TestDispatch_GetRecentEmailsEmptyMailbox(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), call(ToolGetRecentEmails, nil))
	require.Equal(t, model.ToolStatusOK, res.Status)
	assert.Equal(t, "No emails found.", res.Payload)
}

func TestDispatch_SendEmail(t *testing.T) {
	reg, _, sink := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), call(ToolSendEmail, map[string]any{
		"to":      "carol@example.com",
		"subject": "Lunch",
		"body":    "Noon works for me.",
	}))
	require.Equal(t, model.ToolStatusOK, res.Status)
	assert.Contains(t, res.Payload, "carol@example.com")

	sent := sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Lunch", sent[0].Subject)
	assert.Equal(t, "Noon works for me.", sent[0].Body)
}

func TestDispatch_SendEmailRejectsBadRecipient(t *testing.T) {
	reg, _, sink := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), call(ToolSendEmail, map[string]any{
		"to":      "not-an-address",
		"subject": "Hi",
		"body":    "Hi",
	}))
	assert.Equal(t, model.ToolStatusError, res.Status)
	assert.Contains(t, res.Payload, model.ErrValidation.Error())
	assert.Empty(t, sink.Sent())
}

func TestDispatch_BadArgumentsJSON(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	res := reg.Dispatch(context.Background(), model.ToolCall{
		CallID:    "call-2",
		Name:      ToolSearchEmails,
		Arguments: json.RawMessage(`{"query":`),
	})
	assert.Equal(t, model.ToolStatusError, res.Status)
	assert.Equal(t, "call-2", res.CallID)
	assert.Contains(t, res.Payload, model.ErrValidation.Error())
}
