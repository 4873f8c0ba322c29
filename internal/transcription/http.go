package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
)

// HTTPConfig contains configuration for a whisper compatible HTTP server
type HTTPConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration // first retry delay, doubled per attempt
}

// HTTPClient sends waveforms to a remote whisper compatible transcription API
// using multipart uploads and verbose_json responses
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// verboseResponse is the verbose_json body returned by whisper servers
type verboseResponse struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Segments            []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewHTTPClient creates a new transcription HTTP client
func NewHTTPClient(config HTTPConfig, m *metrics.Metrics) (*HTTPClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	if config.Model == "" {
		config.Model = "whisper-1"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
	}, nil
}

// NewHTTPLoader returns a Loader whose model is a remote API. The mode is
// passed to the server as a hint; the remote side owns device selection.
func NewHTTPLoader(config HTTPConfig, m *metrics.Metrics) Loader {
	return func(ctx context.Context, mode Mode) (Model, error) {
		c, err := NewHTTPClient(config, m)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Transcribe uploads the waveform, retrying transient failures with exponential backoff
func (c *HTTPClient) Transcribe(ctx context.Context, wavPath string, opts Options) (*RawOutput, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.Backoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, filepath.Base(wavPath), data, opts)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return response, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (c *HTTPClient) doRequest(ctx context.Context, filename string, data []byte, opts Options) (*RawOutput, error) {
	body, contentType, err := c.createMultipartRequest(filename, data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Meeting-Agent-Service/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var parsed verboseResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	out := &RawOutput{
		Language:            parsed.Language,
		LanguageProbability: parsed.LanguageProbability,
		Duration:            parsed.Duration,
		Segments:            make([]RawSegment, 0, len(parsed.Segments)),
	}
	for _, s := range parsed.Segments {
		out.Segments = append(out.Segments, RawSegment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			AvgLogprob: s.AvgLogprob,
		})
	}
	// servers that only return text still yield one segment spanning the audio
	if len(out.Segments) == 0 && parsed.Text != "" {
		out.Segments = append(out.Segments, RawSegment{End: parsed.Duration, Text: parsed.Text})
	}

	return out, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *HTTPClient) createMultipartRequest(filename string, data []byte, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "verbose_json",
		"task":            string(opts.Task),
		"beam_size":       strconv.Itoa(opts.BeamSize),
		"vad_filter":      strconv.FormatBool(opts.VADFilter),
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a request should be attempted again:
// 5xx, 429, timeouts and network errors are retried
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (c *HTTPClient) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *HTTPClient) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *HTTPClient) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *HTTPClient) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *HTTPClient) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}

// BackendStats exposes the client counters through the engine stats
func (c *HTTPClient) BackendStats() any {
	return c.GetStats()
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
