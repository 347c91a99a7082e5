package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalmail/vocalmail/internal/model"
)

// SentMessage records one delivery accepted by the sink.
type SentMessage struct {
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

// Sink accepts every send and keeps the messages in memory so tests and
// local runs can inspect what would have gone out.
type Sink struct {
	mu   sync.Mutex
	sent []SentMessage
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Name() string { return "sink" }

func (s *Sink) Send(ctx context.Context, to, subject, body string) (*model.DeliveryReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{To: to, Subject: subject, Body: body, SentAt: now})
	s.mu.Unlock()
	return &model.DeliveryReceipt{
		MessageID: uuid.NewString(),
		Transport: s.Name(),
		SentAt:    now,
	}, nil
}

// Sent returns a copy of everything the sink has accepted.
func (s *Sink) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
