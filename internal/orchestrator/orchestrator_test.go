package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/reasoner"
	"github.com/vocalmail/vocalmail/internal/speech"
	"github.com/vocalmail/vocalmail/internal/tools"
)

type fakeStream struct{ ch chan speech.Event }

func newFakeStream() *fakeStream { return &fakeStream{ch: make(chan speech.Event, 8)} }

func (f *fakeStream) Events() <-chan speech.Event { return f.ch }
func (f *fakeStream) Close() error                { return nil }

type fakeOutput struct {
	mu          sync.Mutex
	attached    bool
	attachCalls int
	cancelCalls int
	spoken      []string
	spokeCh     chan string
}

func newFakeOutput() *fakeOutput { return &fakeOutput{spokeCh: make(chan string, 8)} }

func (f *fakeOutput) Attach(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	f.attached = true
	return nil
}

func (f *fakeOutput) Attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *fakeOutput) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	f.spokeCh <- text
	return nil
}

func (f *fakeOutput) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return nil
}

func (f *fakeOutput) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

func (f *fakeOutput) attaches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls
}

func (f *fakeOutput) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = false
}

// scriptedReasoner returns responses in order and records the history of
// each call.
type scriptedReasoner struct {
	mu        sync.Mutex
	responses []*reasoner.Response
	histories [][]reasoner.Message
	gate      chan struct{} // if set, every call blocks on it first
}

func (s *scriptedReasoner) Converse(ctx context.Context, history []reasoner.Message, _ []tools.Definition) (*reasoner.Response, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, history)
	if len(s.responses) == 0 {
		return &reasoner.Response{Text: "nothing more to say"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedReasoner) historyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

func (s *scriptedReasoner) history(i int) []reasoner.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[i]
}

// slowDispatcher resolves calls with per-call delays to exercise result
// ordering.
type slowDispatcher struct {
	delays map[string]time.Duration
}

func (d *slowDispatcher) Definitions() []tools.Definition { return nil }

func (d *slowDispatcher) Dispatch(ctx context.Context, call model.ToolCall) model.ToolResult {
	if delay := d.delays[call.CallID]; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if call.Name == "explode" {
		return model.ToolResult{CallID: call.CallID, Status: model.ToolStatusError, Payload: "unknown tool"}
	}
	return model.ToolResult{CallID: call.CallID, Status: model.ToolStatusOK, Payload: "result for " + call.CallID}
}

func toolCall(id, name string) model.ToolCall {
	return model.ToolCall{CallID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func startOrchestrator(t *testing.T, stream *fakeStream, out *fakeOutput, rs reasoner.Reasoner, d Dispatcher) *Orchestrator {
	t.Helper()
	o := New(stream, out, rs, d, 3, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return o
}

func waitSpoken(t *testing.T, out *fakeOutput) string {
	t.Helper()
	select {
	case text := <-out.spokeCh:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was spoken")
		return ""
	}
}

func TestTurn_SpeaksReply(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &scriptedReasoner{responses: []*reasoner.Response{{Text: "you have two new emails"}}}
	o := startOrchestrator(t, stream, out, rs, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "any new email?"}

	assert.Equal(t, "you have two new emails", waitSpoken(t, out))
	require.Eventually(t, func() bool { return o.State() == StateIdle }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, out.attaches(), 1)
}

func TestTurn_EmptyTranscriptIgnored(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &scriptedReasoner{}
	startOrchestrator(t, stream, out, rs, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "   "}

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rs.historyCount())
	assert.Empty(t, out.spoken)
}

func TestToolRound_ResultsFollowCallOrder(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &scriptedReasoner{responses: []*reasoner.Response{
		{ToolCalls: []model.ToolCall{toolCall("c1", "search_emails"), toolCall("c2", "get_recent_emails")}},
		{Text: "here is what I found"},
	}}
	// c1 finishes last even though it was requested first.
	d := &slowDispatcher{delays: map[string]time.Duration{"c1": 150 * time.Millisecond}}
	startOrchestrator(t, stream, out, rs, d)

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "search my mail"}
	assert.Equal(t, "here is what I found", waitSpoken(t, out))

	// The second reasoning call sees tool results in the order the calls
	// were issued, not the order they completed.
	require.Equal(t, 2, rs.historyCount())
	second := rs.history(1)
	var toolMsgs []reasoner.Message
	for _, m := range second {
		if m.Role == reasoner.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "c1", toolMsgs[0].ToolCallID)
	assert.Equal(t, "c2", toolMsgs[1].ToolCallID)
}

// keyedReasoner answers each question by its text; the first question
// blocks until the gate opens so a barge-in can land mid-reasoning.
type keyedReasoner struct {
	gate    chan struct{}
	replies map[string]string
}

func (k *keyedReasoner) Converse(ctx context.Context, history []reasoner.Message, _ []tools.Definition) (*reasoner.Response, error) {
	var question string
	for _, m := range history {
		if m.Role == reasoner.RoleUser {
			question = m.Content
		}
	}
	if question == "first question" {
		select {
		case <-k.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &reasoner.Response{Text: k.replies[question]}, nil
}

func TestBargeIn_CancelsSynthesisAndDiscardsTurn(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &keyedReasoner{
		gate: make(chan struct{}),
		replies: map[string]string{
			"first question":  "stale answer",
			"second question": "fresh answer",
		},
	}
	o := startOrchestrator(t, stream, out, rs, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "first question"}
	require.Eventually(t, func() bool { return o.State() == StateReasoning }, time.Second, 5*time.Millisecond)

	// User starts talking again mid-reasoning.
	stream.ch <- speech.UtteranceStarted{UtteranceID: "u2"}
	require.Eventually(t, func() bool { return out.cancels() >= 1 }, time.Second, 5*time.Millisecond)

	// Let the superseded turn's reasoning finish; its reply must be discarded.
	close(rs.gate)
	stream.ch <- speech.TranscriptFinal{UtteranceID: "u2", Text: "second question"}

	assert.Equal(t, "fresh answer", waitSpoken(t, out))
	out.mu.Lock()
	spoken := append([]string(nil), out.spoken...)
	out.mu.Unlock()
	assert.NotContains(t, spoken, "stale answer")
}

// gatedDispatcher blocks every call until released, so a barge-in can
// land while tools are still in flight.
type gatedDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDispatcher) Definitions() []tools.Definition { return nil }

func (d *gatedDispatcher) Dispatch(_ context.Context, call model.ToolCall) model.ToolResult {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.release
	return model.ToolResult{CallID: call.CallID, Status: model.ToolStatusOK, Payload: "late result"}
}

// toolOnFirstReasoner asks for a tool on the first question and records
// every history it is shown.
type toolOnFirstReasoner struct {
	mu        sync.Mutex
	histories [][]reasoner.Message
}

func (r *toolOnFirstReasoner) Converse(_ context.Context, history []reasoner.Message, _ []tools.Definition) (*reasoner.Response, error) {
	r.mu.Lock()
	r.histories = append(r.histories, history)
	r.mu.Unlock()
	var question string
	for _, m := range history {
		if m.Role == reasoner.RoleUser {
			question = m.Content
		}
	}
	if question == "first question" {
		return &reasoner.Response{ToolCalls: []model.ToolCall{toolCall("c1", "search_emails")}}, nil
	}
	return &reasoner.Response{Text: "fresh answer"}, nil
}

func TestBargeIn_MidToolDispatchDiscardsLateResults(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &toolOnFirstReasoner{}
	d := &gatedDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := startOrchestrator(t, stream, out, rs, d)

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "first question"}
	select {
	case <-d.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatch never started")
	}
	require.Equal(t, StateToolDispatch, o.State())

	// User starts talking while the tool is still running.
	stream.ch <- speech.UtteranceStarted{UtteranceID: "u2"}
	require.Eventually(t, func() bool { return out.cancels() >= 1 }, time.Second, 5*time.Millisecond)

	// The in-flight tool is allowed to complete after the turn was
	// superseded; its result must go nowhere.
	close(d.release)
	time.Sleep(50 * time.Millisecond)

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u2", Text: "second question"}
	assert.Equal(t, "fresh answer", waitSpoken(t, out))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, h := range rs.histories {
		for _, m := range h {
			assert.NotEqual(t, reasoner.RoleTool, m.Role, "late tool result leaked into a reasoning step")
		}
	}
}

func TestSpeak_ReattachesDroppedOutput(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &scriptedReasoner{responses: []*reasoner.Response{
		{ToolCalls: []model.ToolCall{toolCall("c1", "search_emails")}},
		{Text: "after the tool"},
	}}
	startOrchestrator(t, stream, out, rs, &slowDispatcher{})

	// The synthesis binding drops while the turn is busy with tools.
	out.drop()

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "look something up"}
	assert.Equal(t, "after the tool", waitSpoken(t, out))
	assert.GreaterOrEqual(t, out.attaches(), 1)
	assert.True(t, out.Attached())
}

func TestToolRoundLimit_FallsBackToSpeech(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	// Model keeps asking for tools forever.
	loop := &reasonerLoop{}
	startOrchestrator(t, stream, out, loop, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "go wild"}
	spoken := waitSpoken(t, out)
	assert.Equal(t, fallbackUtterance, spoken)
	// Initial round plus the bounded retries.
	assert.LessOrEqual(t, loop.calls(), 5)
}

type reasonerLoop struct {
	mu sync.Mutex
	n  int
}

func (r *reasonerLoop) Converse(context.Context, []reasoner.Message, []tools.Definition) (*reasoner.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return &reasoner.Response{ToolCalls: []model.ToolCall{toolCall(fmt.Sprintf("c%d", r.n), "search_emails")}}, nil
}

func (r *reasonerLoop) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestUnknownToolResultStillReachesSpeech(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	rs := &scriptedReasoner{responses: []*reasoner.Response{
		{ToolCalls: []model.ToolCall{toolCall("c1", "explode")}},
		{Text: "that tool does not exist"},
	}}
	startOrchestrator(t, stream, out, rs, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "use a bogus tool"}
	assert.Equal(t, "that tool does not exist", waitSpoken(t, out))

	second := rs.history(1)
	var sawError bool
	for _, m := range second {
		if m.Role == reasoner.RoleTool && m.ToolCallID == "c1" {
			sawError = true
			assert.Contains(t, m.Content, "Error:")
		}
	}
	assert.True(t, sawError)
}

func TestReasonerFailure_SpeaksFallback(t *testing.T) {
	stream := newFakeStream()
	out := newFakeOutput()
	startOrchestrator(t, stream, out, &failingReasoner{}, &slowDispatcher{})

	stream.ch <- speech.TranscriptFinal{UtteranceID: "u1", Text: "hello?"}
	assert.Equal(t, fallbackUtterance, waitSpoken(t, out))
}

type failingReasoner struct{}

func (failingReasoner) Converse(context.Context, []reasoner.Message, []tools.Definition) (*reasoner.Response, error) {
	return nil, fmt.Errorf("model unavailable")
}
