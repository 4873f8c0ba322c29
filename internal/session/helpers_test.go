package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcode"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcript"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errConnClosed = errors.New("connection closed")

// fakeConn records every frame sent to the client
type fakeConn struct {
	mu     sync.Mutex
	sent   []string
	fail   bool
	closed bool
}

func (c *fakeConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errConnClosed
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:50000" }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// notifications decodes the JSON frames sent so far, skipping plain text
func (c *fakeConn) notifications(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, text := range c.texts() {
		if len(text) == 0 || text[0] != '{' {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(text), &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	var types []string
	for _, n := range c.notifications(t) {
		types = append(types, n["type"].(string))
	}
	return types
}

// fakeTranscoder writes a short speech-free waveform for every conversion
// and records the bytes it was given
type fakeTranscoder struct {
	dir   string
	err   error
	delay time.Duration

	mu     sync.Mutex
	calls  int
	inputs [][]byte
}

func (f *fakeTranscoder) ConvertStream(ctx context.Context, chunks [][]byte, outputID string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, bytes.Join(chunks, nil))
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}

	data, err := audio.EncodeWAV(make([]int16, audio.ProfileSampleRate/10), audio.ProfileSampleRate)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, transcode.SanitizeID(outputID)+".wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type interval struct {
	start, end time.Time
}

// recordingModel is a transcription model that logs when each call runs
type recordingModel struct {
	delay time.Duration
	err   error

	mu        sync.Mutex
	intervals []interval
}

func (m *recordingModel) Transcribe(ctx context.Context, wavPath string, opts transcription.Options) (*transcription.RawOutput, error) {
	start := time.Now()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.intervals = append(m.intervals, interval{start: start, end: time.Now()})
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	logprob := -0.2
	return &transcription.RawOutput{
		Language:            "en",
		LanguageProbability: 0.99,
		Duration:            0.1,
		Segments: []transcription.RawSegment{
			{Start: 0, End: 0.1, Text: " Hello team.", AvgLogprob: &logprob},
		},
	}, nil
}

func (m *recordingModel) Close() error { return nil }

func (m *recordingModel) calls() []interval {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interval(nil), m.intervals...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *fakePublisher) PublishTranscript(ctx context.Context, sessionID string, result *transcription.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, sessionID+":"+result.Text)
	return nil
}

type testEnv struct {
	manager    *Manager
	transcoder *fakeTranscoder
	model      *recordingModel
	loads      *atomic.Int32
	writer     *transcript.Writer
	publisher  *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	model := &recordingModel{}
	loads := &atomic.Int32{}
	loader := func(ctx context.Context, mode transcription.Mode) (transcription.Model, error) {
		loads.Add(1)
		return model, nil
	}
	engine := transcription.NewEngine(loader, nil, testLogger())

	writer, err := transcript.NewWriter(filepath.Join(dir, "transcripts"), testLogger(), nil)
	require.NoError(t, err)

	transcoder := &fakeTranscoder{dir: dir}
	publisher := &fakePublisher{}

	opts := transcription.DefaultOptions()
	opts.VADFilter = false
	pipeline := &Pipeline{
		Transcoder: transcoder,
		Engine:     engine,
		Writer:     writer,
		Publisher:  publisher,
		Options:    opts,
		Formats:    []transcript.Format{transcript.FormatTXT, transcript.FormatJSON},
	}

	return &testEnv{
		manager:    NewManager(pipeline, nil, testLogger(), nil),
		transcoder: transcoder,
		model:      model,
		loads:      loads,
		writer:     writer,
		publisher:  publisher,
	}
}
