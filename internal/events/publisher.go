package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

// DefaultChannel is the pub/sub channel downstream consumers read finished
// transcripts from
const DefaultChannel = "channel:text_output"

// TranscriptMessage is the payload published for every completed session
type TranscriptMessage struct {
	MeetingID  string   `json:"meetingId"`
	Text       string   `json:"text"`
	Timestamp  int64    `json:"timestamp"`
	Confidence *float64 `json:"confidence"`
}

// RedisPublisher publishes transcripts on a Redis channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// RedisOption configures a RedisPublisher
type RedisOption func(*RedisPublisher)

// WithChannel overrides the channel transcripts are published on
func WithChannel(channel string) RedisOption {
	return func(p *RedisPublisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// WithClock sets the time source for message timestamps
func WithClock(now func() time.Time) RedisOption {
	return func(p *RedisPublisher) {
		p.now = now
	}
}

// NewRedisPublisher creates a publisher on top of an existing client; the
// publisher owns the client and closes it in Close
func NewRedisPublisher(client *redis.Client, logger *slog.Logger, m *metrics.Metrics, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: DefaultChannel,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel returns the channel messages are published on
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Ping checks that the Redis server is reachable
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// PublishTranscript sends the final transcript of a session to subscribers
func (p *RedisPublisher) PublishTranscript(ctx context.Context, sessionID string, result *transcription.Result) error {
	if result == nil {
		return fmt.Errorf("publish transcript %s: nil result", sessionID)
	}

	msg := TranscriptMessage{
		MeetingID:  sessionID,
		Text:       result.Text,
		Timestamp:  p.now().UnixMilli(),
		Confidence: AverageConfidence(result.Segments),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.metrics.RecordEventPublished(false)
		return fmt.Errorf("marshal transcript message: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		p.metrics.RecordEventPublished(false)
		return fmt.Errorf("redis publish: %w", err)
	}
	p.metrics.RecordEventPublished(true)

	p.logger.Debug("Published transcript",
		slog.String("session_id", sessionID),
		slog.String("channel", p.channel),
		slog.Int64("receivers", receivers))
	return nil
}

// Close releases the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// AverageConfidence is the mean of the known segment confidences rounded to
// three decimals, or nil when no segment has one
func AverageConfidence(segments []transcription.Segment) *float64 {
	var sum float64
	var n int
	for _, seg := range segments {
		if seg.Confidence == nil {
			continue
		}
		sum += *seg.Confidence
		n++
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*1000) / 1000
	return &avg
}
