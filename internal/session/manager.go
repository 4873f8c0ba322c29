package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
)

// Manager creates sessions for accepted connections and tracks them until
// they close
type Manager struct {
	registry *Registry
	router   *Router
	pipeline *Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

// NewManager creates a session manager. A nil router uses NewDefaultRouter.
func NewManager(pipeline *Pipeline, router *Router, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if router == nil {
		router = NewDefaultRouter()
	}
	return &Manager{
		registry: NewRegistry(logger, m),
		router:   router,
		pipeline: pipeline,
		logger:   logger,
		metrics:  m,
	}
}

// Registry returns the live session index
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Router returns the control message router
func (m *Manager) Router() *Router {
	return m.router
}

// Open creates and registers a session for an accepted connection and
// greets the client with its id
func (m *Manager) Open(ctx context.Context, conn Conn) *Session {
	s := newSession(conn, m)

	m.wg.Add(1)
	go func() {
		<-s.Done()
		m.wg.Done()
	}()

	m.registry.Add(s)
	m.metrics.RecordSessionCreated()
	s.fire(ctx, EventHandshakeDone, frame{})

	s.logger.Info("Session opened",
		slog.String("remote_addr", conn.RemoteAddr()))
	_ = s.Send(protocol.Connected(s.ID))
	return s
}

// Shutdown closes every live connection, which makes each session finalize
// its audio, and waits for them to finish or for ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.registry.All()
	m.logger.Info("Stopping session manager...",
		slog.Int("active_sessions", len(sessions)))

	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Error closing connection", slog.String("error", err.Error()))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	start := time.Now()
	select {
	case <-done:
		m.logger.Info("Session manager stopped",
			slog.Duration("drain_time", time.Since(start)))
		return nil
	case <-ctx.Done():
		m.logger.Warn("Sessions still finalizing at shutdown",
			slog.Int("remaining", m.registry.ActiveCount()))
		return ctx.Err()
	}
}
