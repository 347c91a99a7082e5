package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultConnectTimeout = 15 * time.Second

// Session is a live websocket speech session. It implements both Stream
// and Output over the same connection.
type Session struct {
	url    string
	apiKey string
	voice  string
	log    zerolog.Logger

	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	attached  atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the speech service and starts the read loop.
func Connect(ctx context.Context, url, apiKey, voice string, log zerolog.Logger) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultConnectTimeout}
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("speech dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("speech dial %s: %w", url, err)
	}

	s := &Session{
		url:    url,
		apiKey: apiKey,
		voice:  voice,
		log:    log.With().Str("component", "speech").Logger(),
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events yields inbound speech events.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

type clientFrame struct {
	Type  string `json:"type"`
	Voice string `json:"voice,omitempty"`
	Text  string `json:"text,omitempty"`
}

type serverFrame struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Attach binds the synthesis output. Calling it while already attached
// is a no-op acknowledged locally.
func (s *Session) Attach(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.attached.Load() {
		return nil
	}
	if err := s.sendJSON(clientFrame{Type: "attach", Voice: s.voice}); err != nil {
		return err
	}
	s.attached.Store(true)
	return nil
}

func (s *Session) Attached() bool { return s != nil && s.attached.Load() }

// Speak queues text for synthesis on the attached output.
func (s *Session) Speak(ctx context.Context, text string) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.attached.Load() {
		return fmt.Errorf("speech output not attached")
	}
	return s.sendJSON(clientFrame{Type: "speak", Text: text})
}

// Cancel stops any in-flight synthesis immediately.
func (s *Session) Cancel() error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	return s.sendJSON(clientFrame{Type: "cancel"})
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return fmt.Errorf("speech session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session and waits for the read loop to exit.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any, once the session ends.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(err)
			if !s.closed.Load() {
				s.emit(ChannelError{Err: err})
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn().Err(err).Msg("undecodable speech frame")
			continue
		}
		switch frame.Type {
		case "utterance_started":
			s.emit(UtteranceStarted{UtteranceID: frame.UtteranceID})
		case "transcript_final":
			s.emit(TranscriptFinal{UtteranceID: frame.UtteranceID, Text: frame.Text})
		case "detached":
			// The service dropped our synthesis binding; the next speaker
			// must re-attach before audio flows again.
			s.attached.Store(false)
		case "error":
			s.emit(ChannelError{Err: fmt.Errorf("speech service: %s", frame.Message)})
		default:
			s.log.Debug().Str("type", frame.Type).Msg("ignoring speech frame")
		}
	}
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stalls. A dropped
		// transcript_final loses a user turn, so leave a trace.
		s.log.Warn().Str("event", event.eventType()).Msg("event buffer full, dropping speech event")
	}
}
