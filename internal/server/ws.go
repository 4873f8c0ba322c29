package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/session"
)

const closeGracePeriod = time.Second

// wsConn adapts a gorilla connection to session.Conn
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex // gorilla allows one concurrent writer
	writeWait time.Duration
	remote    string

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, writeWait time.Duration) *wsConn {
	return &wsConn{
		conn:      conn,
		writeWait: writeWait,
		remote:    conn.RemoteAddr().String(),
	}
}

func (c *wsConn) SendText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}

// Close sends a close frame when the peer is still there and closes the
// socket. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// handleWebSocket upgrades the request and runs the session read loop until
// the session closes
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(h.config.Server.ReadLimit)

	wc := newWSConn(conn, h.config.Server.GetWriteTimeoutDuration())
	ctx := r.Context()
	s := h.manager.Open(ctx, wc)

	h.serve(ctx, s, wc)
}

func (h *HTTPServer) serve(ctx context.Context, s *session.Session, wc *wsConn) {
	defer wc.Close()

	idle := h.config.Server.GetIdleTimeoutDuration()

	for {
		if idle > 0 {
			_ = wc.conn.SetReadDeadline(time.Now().Add(idle))
		}
		msgType, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Warn("WebSocket closed unexpectedly",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()))
			} else {
				h.logger.Debug("WebSocket closed",
					slog.String("session_id", s.ID),
					slog.String("reason", err.Error()))
			}
			s.HandleDisconnect(ctx)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.HandleBinary(ctx, data)
		case websocket.TextMessage:
			s.HandleText(ctx, string(data))
		}

		if s.State() == session.StateClosed {
			return
		}
	}
}
