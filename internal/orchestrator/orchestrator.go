// Package orchestrator drives the voice conversation loop: it turns
// finalized utterances into reasoning turns, runs requested tools, and
// speaks the model's reply, while letting the user interrupt at any time.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/reasoner"
	"github.com/vocalmail/vocalmail/internal/speech"
	"github.com/vocalmail/vocalmail/internal/tools"
)

// State names the phase of the active turn.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateReasoning    State = "reasoning"
	StateToolDispatch State = "tool_dispatch"
	StateSpeaking     State = "speaking"
)

// fallbackUtterance is spoken when a turn cannot produce a real answer.
const fallbackUtterance = "Sorry, I ran into a problem with that. Could you say it again?"

const systemPrompt = "You are a voice assistant for the user's email. " +
	"You can search the mailbox, list recent messages, and send email with the provided tools. " +
	"Replies are spoken aloud, so keep them short and conversational. " +
	"Always confirm recipient, subject and body with the user before sending an email."

// Dispatcher resolves tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Definitions() []tools.Definition
	Dispatch(ctx context.Context, call model.ToolCall) model.ToolResult
}

// Orchestrator owns at most one active turn at a time. A new utterance
// supersedes whatever turn is in flight.
type Orchestrator struct {
	stream     speech.Stream
	output     speech.Output
	reasoner   reasoner.Reasoner
	dispatcher Dispatcher
	log        zerolog.Logger

	maxToolRounds int

	mu         sync.Mutex
	state      State
	activeTurn string
	cancelTurn context.CancelFunc
	history    []reasoner.Message

	turnWG sync.WaitGroup
}

func New(stream speech.Stream, output speech.Output, rs reasoner.Reasoner, d Dispatcher, maxToolRounds int, log zerolog.Logger) *Orchestrator {
	if maxToolRounds <= 0 {
		maxToolRounds = 4
	}
	return &Orchestrator{
		stream:        stream,
		output:        output,
		reasoner:      rs,
		dispatcher:    d,
		log:           log.With().Str("component", "orchestrator").Logger(),
		maxToolRounds: maxToolRounds,
		state:         StateIdle,
		history:       []reasoner.Message{{Role: reasoner.RoleSystem, Content: systemPrompt}},
	}
}

// State reports the current turn phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run consumes speech events until the context is cancelled or the
// stream closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info().Msg("conversation loop started")
	defer o.turnWG.Wait()

	for {
		select {
		case <-ctx.Done():
			o.supersede("shutdown")
			return ctx.Err()
		case ev, ok := <-o.stream.Events():
			if !ok {
				o.log.Info().Msg("speech stream closed")
				o.supersede("stream closed")
				return nil
			}
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev speech.Event) {
	switch e := ev.(type) {
	case speech.UtteranceStarted:
		o.onUtteranceStarted(e)
	case speech.TranscriptFinal:
		o.onTranscriptFinal(ctx, e)
	case speech.ChannelError:
		o.log.Error().Err(e.Err).Msg("speech channel error")
	}
}

// onUtteranceStarted is the barge-in path: the user talking always wins.
// Any synthesis stops and the in-flight turn is abandoned before its
// results can reach the speaker.
func (o *Orchestrator) onUtteranceStarted(e speech.UtteranceStarted) {
	o.mu.Lock()
	interrupted := o.activeTurn != ""
	cancel := o.cancelTurn
	o.activeTurn = ""
	o.cancelTurn = nil
	o.state = StateListening
	o.mu.Unlock()

	if interrupted {
		if err := o.output.Cancel(); err != nil {
			o.log.Warn().Err(err).Msg("failed to cancel synthesis on barge-in")
		}
		if cancel != nil {
			cancel()
		}
		o.log.Info().Str("utterance_id", e.UtteranceID).Msg("turn superseded by barge-in")
	}
}

func (o *Orchestrator) onTranscriptFinal(ctx context.Context, e speech.TranscriptFinal) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		o.mu.Lock()
		if o.activeTurn == "" {
			o.state = StateIdle
		}
		o.mu.Unlock()
		return
	}

	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if prev := o.cancelTurn; prev != nil {
		prev()
	}
	o.activeTurn = turnID
	o.cancelTurn = cancel
	o.state = StateTranscribing
	o.history = append(o.history, reasoner.Message{Role: reasoner.RoleUser, Content: text})
	o.mu.Unlock()

	o.log.Info().Str("turn_id", turnID).Str("transcript", text).Msg("turn started")

	o.turnWG.Add(1)
	go func() {
		defer o.turnWG.Done()
		defer cancel()
		o.runTurn(turnCtx, turnID)
	}()
}

// isCurrent reports whether turnID is still the active turn. Results of
// superseded turns are discarded wherever this returns false.
func (o *Orchestrator) isCurrent(turnID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeTurn == turnID
}

func (o *Orchestrator) setState(turnID string, s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn != turnID {
		return false
	}
	o.state = s
	return true
}

func (o *Orchestrator) runTurn(ctx context.Context, turnID string) {
	if !o.setState(turnID, StateReasoning) {
		return
	}

	defs := o.dispatcher.Definitions()
	reply := ""

	for round := 0; ; round++ {
		resp, err := o.reasoner.Converse(ctx, o.historySnapshot(), defs)
		if err != nil {
			if ctx.Err() != nil || !o.isCurrent(turnID) {
				return
			}
			o.log.Error().Err(err).Str("turn_id", turnID).Msg("reasoning failed")
			o.speak(ctx, turnID, fallbackUtterance)
			return
		}
		if !o.isCurrent(turnID) {
			o.log.Debug().Str("turn_id", turnID).Msg("discarding superseded reasoning result")
			return
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Text
			break
		}
		if round >= o.maxToolRounds {
			o.log.Warn().Str("turn_id", turnID).Int("rounds", round).Msg("tool round limit reached")
			reply = resp.Text
			if strings.TrimSpace(reply) == "" {
				reply = fallbackUtterance
			}
			break
		}

		if !o.setState(turnID, StateToolDispatch) {
			return
		}
		calls := stampTurn(resp.ToolCalls, turnID)
		results := o.dispatchAll(ctx, calls)
		if !o.isCurrent(turnID) {
			o.log.Debug().Str("turn_id", turnID).Msg("discarding superseded tool results")
			return
		}
		o.appendToolRound(turnID, resp.Text, calls, results)
		if !o.setState(turnID, StateReasoning) {
			return
		}
	}

	if strings.TrimSpace(reply) == "" {
		reply = fallbackUtterance
	}
	o.appendAssistant(turnID, reply)
	o.speak(ctx, turnID, reply)
}

// dispatchAll runs every call concurrently and returns results in call
// order, so result i always answers call i regardless of completion
// order.
func (o *Orchestrator) dispatchAll(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()
			results[i] = o.dispatcher.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// speak voices one reply. The output is re-attached on every entry; a
// synthesis binding can silently drop between turns and speaking into a
// detached output loses the reply without an error.
func (o *Orchestrator) speak(ctx context.Context, turnID, text string) {
	if !o.setState(turnID, StateSpeaking) {
		return
	}

	if err := o.output.Attach(ctx); err != nil {
		o.log.Error().Err(err).Str("turn_id", turnID).Msg("failed to attach speech output")
		o.finishTurn(turnID)
		return
	}
	if !o.output.Attached() {
		if err := o.output.Attach(ctx); err != nil || !o.output.Attached() {
			o.log.Error().Err(err).Str("turn_id", turnID).Msg("speech output did not attach")
			o.finishTurn(turnID)
			return
		}
	}
	if !o.isCurrent(turnID) {
		return
	}
	if err := o.output.Speak(ctx, text); err != nil {
		o.log.Error().Err(err).Str("turn_id", turnID).Msg("failed to speak reply")
	}
	o.finishTurn(turnID)
}

func (o *Orchestrator) finishTurn(turnID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn != turnID {
		return
	}
	o.activeTurn = ""
	o.cancelTurn = nil
	o.state = StateIdle
}

// supersede abandons the active turn without starting a new one.
func (o *Orchestrator) supersede(reason string) {
	o.mu.Lock()
	cancel := o.cancelTurn
	had := o.activeTurn != ""
	o.activeTurn = ""
	o.cancelTurn = nil
	o.state = StateIdle
	o.mu.Unlock()

	if had {
		_ = o.output.Cancel()
		if cancel != nil {
			cancel()
		}
		o.log.Info().Str("reason", reason).Msg("active turn abandoned")
	}
}

func (o *Orchestrator) historySnapshot() []reasoner.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]reasoner.Message, len(o.history))
	copy(out, o.history)
	return out
}

// appendToolRound records the assistant's tool request and, in the same
// order as the calls, one tool message per result.
func (o *Orchestrator) appendToolRound(turnID, text string, calls []model.ToolCall, results []model.ToolResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn != turnID {
		return
	}
	o.history = append(o.history, reasoner.Message{
		Role:      reasoner.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
	for _, res := range results {
		content := res.Payload
		if res.Status == model.ToolStatusError {
			content = "Error: " + res.Payload
		}
		o.history = append(o.history, reasoner.Message{
			Role:       reasoner.RoleTool,
			Content:    content,
			ToolCallID: res.CallID,
		})
	}
}

func (o *Orchestrator) appendAssistant(turnID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn != turnID {
		return
	}
	o.history = append(o.history, reasoner.Message{Role: reasoner.RoleAssistant, Content: text})
}

func stampTurn(calls []model.ToolCall, turnID string) []model.ToolCall {
	out := make([]model.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		out[i].TurnID = turnID
	}
	return out
}
