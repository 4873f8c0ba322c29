package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/vad"
)

// Engine owns the single expensive speech model shared by every session.
// The model is loaded on first use and at most one inference runs at a time.
type Engine struct {
	loader  Loader
	modes   []Mode
	logger  *slog.Logger
	metrics *metrics.Metrics
	vad     *vad.Processor

	// held for the whole load + inference critical section
	sem *semaphore.Weighted

	model Model // guarded by sem

	// Statistics
	mu           sync.RWMutex
	loadedMode   *Mode
	backend      StatsReporter // counters of the loaded model, if it keeps any
	loadAttempts uint64
	calls        uint64
	failures     uint64
	skipped      uint64
	busy         bool
	lastLoadErr  string
}

// EngineStats represents engine statistics
type EngineStats struct {
	Loaded       bool   `json:"loaded"`
	Mode         string `json:"mode,omitempty"`
	Busy         bool   `json:"busy"`
	LoadAttempts uint64 `json:"load_attempts"`
	Calls        uint64 `json:"calls"`
	Failures     uint64 `json:"failures"`
	SilentSkips  uint64 `json:"silent_skips"`
	LastLoadErr  string `json:"last_load_error,omitempty"`

	VoiceFilter *vad.ProcessorStats `json:"voice_filter,omitempty"`
	Backend     any                 `json:"backend,omitempty"`
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithMetrics records load, wait and inference metrics
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithVoiceFilter skips the model for waveforms in which the processor finds
// no speech, when the caller asks for VAD filtering
func WithVoiceFilter(p *vad.Processor) EngineOption {
	return func(e *Engine) { e.vad = p }
}

// NewEngine creates an engine that loads its model lazily by trying modes in order
func NewEngine(loader Loader, modes []Mode, logger *slog.Logger, opts ...EngineOption) *Engine {
	if len(modes) == 0 {
		modes = DefaultModes()
	}
	e := &Engine{
		loader: loader,
		modes:  modes,
		logger: logger,
		sem:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load loads the model now instead of on the first Transcribe call
func (e *Engine) Load(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	return e.ensureLoaded(ctx)
}

// ensureLoaded must be called with sem held
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.model != nil {
		return nil
	}

	var errs []error
	for _, mode := range e.modes {
		e.mu.Lock()
		e.loadAttempts++
		e.mu.Unlock()

		start := time.Now()
		model, err := e.loader(ctx, mode)
		if err != nil {
			e.metrics.RecordModelLoad(mode.String(), false)
			e.logger.Warn("Model load failed, trying next mode",
				slog.String("mode", mode.String()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", mode, err))
			continue
		}

		e.metrics.RecordModelLoad(mode.String(), true)
		e.model = model

		loaded := mode
		e.mu.Lock()
		e.loadedMode = &loaded
		e.backend, _ = model.(StatsReporter)
		e.lastLoadErr = ""
		e.mu.Unlock()

		e.logger.Info("Transcription model loaded",
			slog.String("mode", mode.String()),
			slog.Duration("load_time", time.Since(start)))
		return nil
	}

	err := fmt.Errorf("%w: %w", ErrModelUnavailable, errors.Join(errs...))
	e.mu.Lock()
	e.lastLoadErr = err.Error()
	e.mu.Unlock()
	return err
}

// Transcribe converts the waveform at wavPath into text. Calls from different
// sessions queue up; only one model invocation runs at a time.
func (e *Engine) Transcribe(ctx context.Context, wavPath string, opts Options) (*Result, error) {
	if _, err := os.Stat(wavPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w: %s", ErrTranscriptionFailed, ErrFileNotFound, wavPath)
		}
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	if opts.Task == "" {
		opts.Task = TaskTranscribe
	}
	if !opts.Task.Valid() {
		return nil, fmt.Errorf("%w: unknown task %q", ErrTranscriptionFailed, opts.Task)
	}
	if opts.BeamSize <= 0 {
		opts.BeamSize = 5
	}

	if opts.VADFilter && e.vad != nil {
		if res, ok := e.silentResult(wavPath); ok {
			return res, nil
		}
	}

	waitStart := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	defer e.sem.Release(1)
	e.metrics.RecordEngineWait(time.Since(waitStart).Seconds())

	if err := e.ensureLoaded(ctx); err != nil {
		e.countCall(false)
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	e.setBusy(true)
	defer e.setBusy(false)

	start := time.Now()
	raw, err := e.model.Transcribe(ctx, wavPath, opts)
	elapsed := time.Since(start)
	if err != nil {
		e.countCall(false)
		e.metrics.RecordTranscription(false, elapsed.Seconds(), 0)
		e.logger.Error("Transcription failed",
			slog.String("path", wavPath),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrModelLost) {
			e.dropModel()
		}
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	result := normalize(raw)
	e.countCall(true)
	e.metrics.RecordTranscription(true, elapsed.Seconds(), result.Duration)

	e.logger.Info("Transcription complete",
		slog.String("path", wavPath),
		slog.String("language", result.Language),
		slog.Float64("duration", result.Duration),
		slog.Int("segments", result.SegmentCount),
		slog.Duration("elapsed", elapsed))

	return result, nil
}

// silentResult returns an empty result when the waveform contains no speech
func (e *Engine) silentResult(wavPath string) (*Result, bool) {
	samples, info, err := audio.ReadSamples(wavPath)
	if err != nil || info.SampleRate != audio.ProfileSampleRate || info.Channels != 1 {
		return nil, false
	}
	if e.vad.HasSpeech(samples) {
		return nil, false
	}

	e.mu.Lock()
	e.skipped++
	e.mu.Unlock()
	e.metrics.RecordSilentSkipped()

	e.logger.Info("No speech detected, skipping model",
		slog.String("path", wavPath))

	return &Result{
		Segments: []Segment{},
		Duration: round(float64(len(samples))/float64(info.SampleRate), 2),
		Skipped:  SkipNoSpeech,
	}, true
}

// normalize trims segment text, derives confidence, and orders segments by start time
func normalize(raw *RawOutput) *Result {
	if raw == nil {
		raw = &RawOutput{}
	}

	segments := make([]Segment, 0, len(raw.Segments))
	for _, s := range raw.Segments {
		text := strings.TrimSpace(s.Text)
		start, end := round(s.Start, 2), round(s.End, 2)
		if end < start {
			end = start
		}
		segments = append(segments, Segment{
			Start:      start,
			End:        end,
			Text:       text,
			Confidence: confidence(s),
		})
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
	}

	lp := raw.LanguageProbability
	if lp < 0 {
		lp = 0
	}
	if lp > 1 {
		lp = 1
	}

	return &Result{
		Text:                strings.Join(texts, " "),
		Segments:            segments,
		Language:            raw.Language,
		LanguageProbability: round(lp, 3),
		Duration:            round(raw.Duration, 2),
		SegmentCount:        len(segments),
	}
}

// confidence maps a backend score onto 0..1; nil means the backend reported none
func confidence(s RawSegment) *float64 {
	var c float64
	switch {
	case s.Confidence != nil:
		c = *s.Confidence
	case s.AvgLogprob != nil:
		c = math.Exp(*s.AvgLogprob)
	default:
		return nil
	}
	c = math.Max(0, math.Min(1, c))
	c = round(c, 3)
	return &c
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// dropModel must be called with sem held
func (e *Engine) dropModel() {
	if e.model != nil {
		_ = e.model.Close()
	}
	e.model = nil

	e.mu.Lock()
	e.loadedMode = nil
	e.backend = nil
	e.mu.Unlock()
}

func (e *Engine) countCall(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if !ok {
		e.failures++
	}
}

func (e *Engine) setBusy(b bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = b
}

// Stats returns current engine statistics
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		Loaded:       e.loadedMode != nil,
		Busy:         e.busy,
		LoadAttempts: e.loadAttempts,
		Calls:        e.calls,
		Failures:     e.failures,
		SilentSkips:  e.skipped,
		LastLoadErr:  e.lastLoadErr,
	}
	if e.loadedMode != nil {
		stats.Mode = e.loadedMode.String()
	}
	if e.backend != nil {
		stats.Backend = e.backend.BackendStats()
	}
	if e.vad != nil {
		vs := e.vad.GetStats()
		stats.VoiceFilter = &vs
	}
	return stats
}

// Close waits for the running inference, if any, and releases the model
func (e *Engine) Close(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil

	e.mu.Lock()
	e.loadedMode = nil
	e.backend = nil
	e.mu.Unlock()

	return err
}
