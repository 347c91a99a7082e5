package transport

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_RecordsSends(t *testing.T) {
	s := NewSink()

	receipt, err := s.Send(context.Background(), "ana@example.com", "Hi", "Hello there")
	require.NoError(t, err)
	assert.Equal(t, "sink", receipt.Transport)
	assert.NotEmpty(t, receipt.MessageID)
	assert.False(t, receipt.SentAt.IsZero())

	sent := s.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].To)
	assert.Equal(t, "Hi", sent[0].Subject)
	assert.Equal(t, "Hello there", sent[0].Body)
}

func TestSink_CancelledContext(t *testing.T) {
	s := NewSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Send(ctx, "ana@example.com", "Hi", "Hello")
	assert.Error(t, err)
	assert.Empty(t, s.Sent())
}

func TestSink_ConcurrentSends(t *testing.T) {
	s := NewSink()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Send(context.Background(), "x@example.com", "s", "b")
		}()
	}
	wg.Wait()
	assert.Len(t, s.Sent(), 20)
}
