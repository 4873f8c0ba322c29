package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/config"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/session"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

const (
	serviceName    = "meeting-agent-service"
	serviceVersion = "1.0.0"
)

// HTTPServer serves the live audio WebSocket and the monitoring API
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
	config   *config.Config
	manager  *session.Manager
	engine   *transcription.Engine
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the server and its routes. A nil gatherer exposes
// the default Prometheus registry on /metrics.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *session.Manager,
	engine *transcription.Engine, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Server.ReadBufferSize,
			WriteBufferSize: cfg.Server.WriteBufferSize,
			// browser clients connect from the meeting UI origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger,
		config:    cfg,
		manager:   manager,
		engine:    engine,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.router = h.routes()

	// no read or write timeout: both would cut hijacked WebSocket connections
	h.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

func (h *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// live audio
	r.Get("/ws", h.handleWebSocket)
	r.Get("/stream", h.handleWebSocket)

	// monitoring API
	r.Group(func(r chi.Router) {
		r.Use(h.withMetrics)
		r.Get("/", h.handleRoot)
		r.Get("/health", h.handleHealth)
		r.Get("/sessions", h.handleSessions)
		r.Get("/sessions/{id}", h.handleSessionDetail)
		r.Post("/broadcast", h.handleBroadcast)
		r.Get("/stats", h.handleStats)
		r.Get("/config", h.handleConfig)
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Handler returns the root handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics records request count and latency per route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts serving in the background
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop stops accepting requests. Hijacked WebSocket connections are not
// tracked by net/http; the session manager closes those.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	engineStats := h.engine.Stats()

	engineStatus := "idle"
	if engineStats.Loaded {
		engineStatus = "ready"
	}
	if engineStats.Busy {
		engineStatus = "busy"
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"sessions": map[string]any{
				"status": "running",
				"active": h.manager.Registry().ActiveCount(),
			},
			"transcription": map[string]any{
				"status":  engineStatus,
				"backend": h.config.Transcription.Backend,
				"mode":    engineStats.Mode,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Registry().All()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.manager.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

type broadcastRequest struct {
	Message string `json:"message"`
}

// handleBroadcast sends an AGENT_REPLY to every connected client
func (h *HTTPServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	delivered := h.manager.Registry().Broadcast(protocol.AgentReply(req.Message))
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
		"active":    h.manager.Registry().ActiveCount(),
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Registry().All()
	var bufferedBytes int64
	byState := make(map[string]int)
	for _, s := range sessions {
		info := s.Info()
		bufferedBytes += info.Buffer.TotalBytes
		byState[info.State.String()]++
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"active_count":   len(sessions),
			"by_state":       byState,
			"buffered_bytes": bufferedBytes,
		},
		"transcription": h.engine.Stats(),
		"message_types": h.manager.Router().Types(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]any{
		"service": "Meeting Agent Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":              "API documentation",
			"GET /ws":            "Live audio WebSocket (binary audio, JSON control messages)",
			"GET /stream":        "Alias of /ws",
			"GET /health":        "Service health check",
			"GET /sessions":      "List all live sessions",
			"GET /sessions/{id}": "Get detailed session information",
			"POST /broadcast":    "Send an AGENT_REPLY to every connected client",
			"GET /config":        "Get service configuration",
			"GET /stats":         "Get service statistics",
			"GET /metrics":       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
