package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
)

// Registry indexes the live sessions by id. It does not own them; the
// transport decides when a session ends.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// Add registers s under its id
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.logger.Info("Added session to registry",
		slog.String("session_id", s.ID),
		slog.Int("active", count))
}

// Remove drops the session with the given id; unknown ids are ignored
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.metrics.SetActiveSessions(count)
	r.logger.Info("Removed session from registry",
		slog.String("session_id", id),
		slog.Int("remaining", count))
}

// Get returns the session with the given id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ActiveCount returns the number of registered sessions
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// All returns the registered sessions
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast sends n to every registered session and returns how many
// deliveries succeeded. A failed delivery does not stop the others.
func (r *Registry) Broadcast(n *protocol.Notification) int {
	data, err := n.Marshal()
	if err != nil {
		r.logger.Error("Failed to encode broadcast",
			slog.String("error", err.Error()))
		return 0
	}

	delivered := 0
	for _, s := range r.All() {
		if err := s.SendText(string(data)); err == nil {
			delivered++
		}
	}

	r.metrics.RecordBroadcast(delivered)
	return delivered
}
