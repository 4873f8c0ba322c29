package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
)

// Handler processes one control message for a session
type Handler func(ctx context.Context, s *Session, payload json.RawMessage)

// Router maps message types to handlers. Registering a type again replaces
// its handler.
type Router struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler
}

// NewRouter creates a router with no handlers
func NewRouter() *Router {
	return &Router{handlers: make(map[protocol.MessageType]Handler)}
}

// NewDefaultRouter creates a router with the chat and end-of-stream handlers
func NewDefaultRouter() *Router {
	r := NewRouter()
	for t, h := range defaultHandlers() {
		r.Register(t, h)
	}
	return r
}

func defaultHandlers() map[protocol.MessageType]Handler {
	return map[protocol.MessageType]Handler{
		protocol.TypeUserChatText: handleUserChat,
		protocol.TypeEndStream:    handleEndStream,
	}
}

// Register installs h for message type t
func (r *Router) Register(t protocol.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Dispatch runs the handler for t. An unknown type is reported to the
// session as an ERROR notification.
func (r *Router) Dispatch(ctx context.Context, s *Session, t protocol.MessageType, payload json.RawMessage) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()

	if !ok {
		s.logger.Warn("No handler for message type",
			slog.String("type", string(t)))
		_ = s.Send(protocol.Error("Unknown message type: " + string(t)))
		return
	}
	h(ctx, s, payload)
}

// Types returns the registered message types in sorted order
func (r *Router) Types() []protocol.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]protocol.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func handleUserChat(ctx context.Context, s *Session, payload json.RawMessage) {
	text := protocol.PayloadText(payload)
	s.logger.Info("User message", slog.String("text", text))
	_ = s.Send(protocol.AgentReply("Agent received: " + text))
}

func handleEndStream(ctx context.Context, s *Session, payload json.RawMessage) {
	s.logger.Info("End stream command received")
	_ = s.Send(protocol.StreamEnded("Stream ended successfully"))
	s.EndStream(ctx)
}
