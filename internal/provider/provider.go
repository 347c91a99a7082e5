// Package provider fetches mailbox messages from an upstream email API.
package provider

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vocalmail/vocalmail/internal/model"
)

// Participant is a name/address pair as the upstream API represents it.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RawMessage mirrors the upstream wire shape of one message.
type RawMessage struct {
	ID       string        `json:"id"`
	ThreadID string        `json:"thread_id"`
	Subject  string        `json:"subject"`
	Body     string        `json:"body"`
	Snippet  string        `json:"snippet"`
	From     []Participant `json:"from"`
	To       []Participant `json:"to"`
	Date     int64         `json:"date"`
}

// Page is one page of messages plus the cursor for the next page.
// An empty NextCursor means the mailbox is exhausted.
type Page struct {
	Messages   []RawMessage
	NextCursor string
}

// MailProvider lists mailbox messages page by page, newest first.
type MailProvider interface {
	ListPage(ctx context.Context, cursor string, pageSize int) (*Page, error)
}

// Normalize converts a raw wire message into the canonical stored form.
// HTML bodies are reduced to text and a short preview snippet is derived
// when the upstream did not supply one.
func (r RawMessage) Normalize() *model.Message {
	m := &model.Message{
		ID:         r.ID,
		ThreadID:   r.ThreadID,
		Subject:    r.Subject,
		BodyText:   stripTags(r.Body),
		Snippet:    r.Snippet,
		ReceivedAt: time.Unix(r.Date, 0).UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	if len(r.From) > 0 {
		m.FromName = r.From[0].Name
		m.FromEmail = r.From[0].Email
	}
	if len(r.To) > 0 {
		m.ToName = r.To[0].Name
		m.ToEmail = r.To[0].Email
	}
	if m.Snippet == "" {
		m.Snippet = preview(m.BodyText, 200)
	}
	return m
}

// stripTags removes HTML markup, leaving readable text. Good enough for
// search and previews; not a full sanitizer.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}

// preview cuts s to at most n bytes without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
