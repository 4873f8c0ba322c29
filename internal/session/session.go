package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
)

// Conn is the transport side of a session. Implementations must allow
// SendText to be called from more than one goroutine.
type Conn interface {
	SendText(text string) error
	RemoteAddr() string
	Close() error
}

// Session is one live audio connection. Frames are handled on the
// transport's read goroutine, in arrival order.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn     Conn
	buffer   *audio.Buffer
	router   *Router
	registry *Registry
	pipeline *Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics

	finalizeOnce sync.Once
	done         chan struct{}

	mu           sync.RWMutex
	state        State
	lastActivity time.Time
	outcome      string
}

// Info is a point-in-time view of a session for the monitoring API
type Info struct {
	ID           string            `json:"id"`
	State        State             `json:"state"`
	RemoteAddr   string            `json:"remote_addr"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Buffer       audio.BufferStats `json:"buffer"`
	Outcome      string            `json:"outcome,omitempty"`
}

// NewID returns a session id of the form meeting_YYYYMMDD_HHMMSS_xxxxxxxx
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("meeting_%s_%s", now.Format("20060102_150405"), suffix)
}

func newSession(conn Conn, m *Manager) *Session {
	now := time.Now()
	id := NewID(now)
	return &Session{
		ID:           id,
		CreatedAt:    now,
		conn:         conn,
		buffer:       audio.NewBuffer(id),
		router:       m.router,
		registry:     m.registry,
		pipeline:     m.pipeline,
		logger:       m.logger.With(slog.String("session_id", id)),
		metrics:      m.metrics,
		done:         make(chan struct{}),
		state:        StateConnecting,
		lastActivity: now,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session reaches CLOSED
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Buffer returns the session's audio accumulator
func (s *Session) Buffer() *audio.Buffer {
	return s.buffer
}

// Info returns a snapshot for the monitoring API
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.ID,
		State:        s.state,
		RemoteAddr:   s.conn.RemoteAddr(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Buffer:       s.buffer.Stats(),
		Outcome:      s.outcome,
	}
}

// HandleBinary appends one audio frame and acknowledges it
func (s *Session) HandleBinary(ctx context.Context, data []byte) {
	s.metrics.RecordBinaryFrame(len(data))
	s.fire(ctx, EventBinaryFrame, frame{data: data})
}

// HandleText classifies a text frame and applies it
func (s *Session) HandleText(ctx context.Context, text string) {
	tf := protocol.ParseText(text)
	s.metrics.RecordTextFrame(tf.Kind.String())

	switch tf.Kind {
	case protocol.TextMessage:
		s.fire(ctx, EventControlMessage, frame{envelope: tf.Envelope})
	case protocol.TextStop:
		s.logger.Info("Stop command received")
		s.fire(ctx, EventEndOfStream, frame{})
	default:
		s.fire(ctx, EventPlainText, frame{text: tf.Text})
	}
}

// EndStream requests finalization, as an end-of-stream message does
func (s *Session) EndStream(ctx context.Context) {
	s.fire(ctx, EventEndOfStream, frame{})
}

// HandleDisconnect finalizes whatever audio was received before the
// connection dropped. It is a no-op once the session is finalizing or closed.
func (s *Session) HandleDisconnect(ctx context.Context) {
	s.fire(ctx, EventDisconnect, frame{})
}

// Send delivers a JSON notification. Failures are logged and returned but
// never change the session state.
func (s *Session) Send(n *protocol.Notification) error {
	data, err := n.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", n.Type, err)
	}
	return s.SendText(string(data))
}

// SendText delivers a plain text frame on a best effort basis
func (s *Session) SendText(text string) error {
	if err := s.conn.SendText(text); err != nil {
		s.metrics.RecordSendError()
		s.logger.Warn("Failed to send message",
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// frame carries the data belonging to an event
type frame struct {
	data     []byte
	text     string
	envelope *protocol.Envelope
}

func (s *Session) fire(ctx context.Context, ev Event, f frame) {
	s.mu.Lock()
	from := s.state
	to, effects := Transition(from, ev)
	s.state = to
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if from != to {
		s.logger.Debug("Session state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("event", ev.String()))
	} else if len(effects) == 0 && ev != EventDisconnect {
		s.logger.Debug("Event ignored",
			slog.String("state", from.String()),
			slog.String("event", ev.String()))
	}

	for _, eff := range effects {
		s.apply(ctx, eff, f)
	}
}

func (s *Session) apply(ctx context.Context, eff Effect, f frame) {
	switch eff {
	case EffectAppend:
		s.buffer.Append(f.data)

	case EffectAck:
		_ = s.SendText(protocol.AckText(len(f.data)))

	case EffectDispatch:
		s.router.Dispatch(ctx, s, f.envelope.Type, f.envelope.Payload)

	case EffectEcho:
		_ = s.SendText(protocol.EchoText(f.text))

	case EffectFinalize:
		s.finalizeOnce.Do(func() {
			outcome := s.finalize(context.WithoutCancel(ctx))
			s.mu.Lock()
			s.outcome = outcome
			s.mu.Unlock()
			s.fire(ctx, EventFinalizeDone, frame{})
		})

	case EffectDeregister:
		s.registry.Remove(s.ID)

	case EffectRelease:
		s.buffer.Clear()
		s.metrics.RecordSessionClosed(time.Since(s.CreatedAt).Seconds())
		s.logger.Info("Session closed",
			slog.Duration("duration", time.Since(s.CreatedAt)),
			slog.String("outcome", s.Info().Outcome))
		close(s.done)
	}
}
