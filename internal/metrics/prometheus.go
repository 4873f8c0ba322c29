package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the agent service.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// WebSocket frame metrics
	BinaryFramesReceived prometheus.Counter
	AudioBytesReceived   prometheus.Counter
	TextFramesReceived   *prometheus.CounterVec
	SendErrors           prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsClosed    prometheus.Counter
	SessionDuration   prometheus.Histogram
	BroadcastMessages prometheus.Counter

	// Transcoder metrics
	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration prometheus.Histogram
	ConversionInput    prometheus.Histogram

	// Engine metrics
	ModelLoads            *prometheus.CounterVec
	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	EngineWaitDuration    prometheus.Histogram
	AudioDuration         prometheus.Histogram
	SilentSkipped         prometheus.Counter
	TranscriptionRetries  prometheus.Counter

	// Artifact metrics
	ArtifactsWritten *prometheus.CounterVec

	// Event publishing metrics
	EventsPublished *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// WebSocket frame metrics
		BinaryFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_binary_frames_received_total",
			Help: "Total number of binary audio frames received",
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_audio_bytes_received_total",
			Help: "Total number of audio bytes received",
		}),
		TextFramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_text_frames_received_total",
			Help: "Total number of text frames received by kind",
		}, []string{"kind"}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_send_errors_total",
			Help: "Total number of outbound messages that could not be delivered",
		}),

		// Session metrics
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "agent_active_sessions",
			Help: "Current number of registered live sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_session_duration_seconds",
			Help:    "Duration of live sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		BroadcastMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_broadcast_deliveries_total",
			Help: "Total number of broadcast deliveries that succeeded",
		}),

		// Transcoder metrics
		ConversionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_conversions_total",
			Help: "Total number of ffmpeg conversions by result",
		}, []string{"result"}),
		ConversionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_conversion_duration_seconds",
			Help:    "Duration of ffmpeg conversions",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		ConversionInput: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_conversion_input_bytes",
			Help:    "Size of buffered audio handed to the transcoder",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		// Engine metrics
		ModelLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_model_loads_total",
			Help: "Total number of model load attempts by mode and result",
		}, []string{"mode", "result"}),
		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_transcriptions_total",
			Help: "Total number of transcriptions by result",
		}, []string{"result"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_transcription_duration_seconds",
			Help:    "Time spent inside the transcription model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		EngineWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_engine_wait_duration_seconds",
			Help:    "Time spent waiting for exclusive access to the engine",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4 minutes
		}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_transcribed_audio_seconds",
			Help:    "Duration of transcribed waveforms",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		SilentSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_silent_waveforms_skipped_total",
			Help: "Total number of waveforms skipped because no speech was detected",
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "agent_transcription_retries_total",
			Help: "Total number of remote transcription request retries",
		}),

		// Artifact metrics
		ArtifactsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_artifacts_written_total",
			Help: "Total number of transcript artifacts by format and result",
		}, []string{"format", "result"}),

		// Event publishing metrics
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_events_published_total",
			Help: "Total number of transcript events published by result",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordBinaryFrame records a received audio frame
func (m *Metrics) RecordBinaryFrame(sizeBytes int) {
	if m == nil {
		return
	}
	m.BinaryFramesReceived.Inc()
	m.AudioBytesReceived.Add(float64(sizeBytes))
}

// RecordTextFrame records a received text frame by kind (envelope, keyword, echo)
func (m *Metrics) RecordTextFrame(kind string) {
	if m == nil {
		return
	}
	m.TextFramesReceived.WithLabelValues(kind).Inc()
}

// RecordSendError records an outbound message that was not delivered
func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// SetActiveSessions sets the number of registered sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated records a new session
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionClosed records a closed session and its lifetime
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordBroadcast records successful broadcast deliveries
func (m *Metrics) RecordBroadcast(delivered int) {
	if m == nil {
		return
	}
	m.BroadcastMessages.Add(float64(delivered))
}

// RecordConversion records an ffmpeg conversion
func (m *Metrics) RecordConversion(ok bool, durationSeconds float64, inputBytes int64) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(result(ok)).Inc()
	m.ConversionDuration.Observe(durationSeconds)
	m.ConversionInput.Observe(float64(inputBytes))
}

// RecordModelLoad records a model load attempt for a mode
func (m *Metrics) RecordModelLoad(mode string, ok bool) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(mode, result(ok)).Inc()
}

// RecordEngineWait records the time a caller waited for the engine
func (m *Metrics) RecordEngineWait(waitSeconds float64) {
	if m == nil {
		return
	}
	m.EngineWaitDuration.Observe(waitSeconds)
}

// RecordTranscription records a model call
func (m *Metrics) RecordTranscription(ok bool, durationSeconds, audioSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(result(ok)).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	if ok {
		m.AudioDuration.Observe(audioSeconds)
	}
}

// RecordSilentSkipped records a waveform that bypassed the model
func (m *Metrics) RecordSilentSkipped() {
	if m == nil {
		return
	}
	m.SilentSkipped.Inc()
}

// RecordTranscriptionRetry records a remote transcription retry
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordArtifact records a transcript artifact write
func (m *Metrics) RecordArtifact(format string, ok bool) {
	if m == nil {
		return
	}
	m.ArtifactsWritten.WithLabelValues(format, result(ok)).Inc()
}

// RecordEventPublished records a transcript event publish attempt
func (m *Metrics) RecordEventPublished(ok bool) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(result(ok)).Inc()
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
