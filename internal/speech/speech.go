// Package speech carries the duplex audio channel: user utterances in,
// synthesized assistant speech out.
package speech

import "context"

// Event is an inbound event from the speech channel.
type Event interface {
	eventType() string
}

// UtteranceStarted fires as soon as the user begins speaking. It arrives
// before any transcript and is the barge-in signal.
type UtteranceStarted struct {
	UtteranceID string
}

func (UtteranceStarted) eventType() string { return "utterance_started" }

// TranscriptFinal carries the committed transcript of one utterance.
type TranscriptFinal struct {
	UtteranceID string
	Text        string
}

func (TranscriptFinal) eventType() string { return "transcript_final" }

// ChannelError reports a transport-level failure on the speech channel.
type ChannelError struct {
	Err error
}

func (ChannelError) eventType() string { return "error" }

// Stream yields inbound speech events. The channel closes when the
// session ends.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Output synthesizes assistant speech. Attach is idempotent and safe to
// call again on an already attached output; implementations that lose
// their downstream (a TTS dropout) report it via Attached.
type Output interface {
	Attach(ctx context.Context) error
	Attached() bool
	Speak(ctx context.Context, text string) error
	Cancel() error
}
