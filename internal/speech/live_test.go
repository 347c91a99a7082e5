package speech

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmit_FullBufferDropsWithTrace(t *testing.T) {
	var buf bytes.Buffer
	s := &Session{
		log:    zerolog.New(&buf),
		events: make(chan Event, 1),
	}
	s.events <- TranscriptFinal{UtteranceID: "u1", Text: "hello"}

	// Must not block the read loop, and the drop must be visible in logs.
	s.emit(TranscriptFinal{UtteranceID: "u2", Text: "lost"})

	assert.Contains(t, buf.String(), "dropping speech event")
	assert.Contains(t, buf.String(), "transcript_final")
	assert.Len(t, s.events, 1)
}
