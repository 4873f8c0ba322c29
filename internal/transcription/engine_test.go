package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/vad"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeModel struct {
	out    *RawOutput
	err    error
	delay  time.Duration
	closed atomic.Bool

	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
}

func (m *fakeModel) Transcribe(ctx context.Context, wavPath string, opts Options) (*RawOutput, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

// loaderFor fails every mode listed in failing and returns model for the rest
func loaderFor(model Model, failing ...string) (Loader, *[]string) {
	var mu sync.Mutex
	var attempts []string
	return func(ctx context.Context, mode Mode) (Model, error) {
		mu.Lock()
		attempts = append(attempts, mode.String())
		mu.Unlock()
		for _, f := range failing {
			if mode.Device == f {
				return nil, errors.New(f + " not available")
			}
		}
		return model, nil
	}, &attempts
}

func writeWAV(t *testing.T, samples []int16) string {
	t.Helper()
	data, err := audio.EncodeWAV(samples, audio.ProfileSampleRate)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func speechSamples(seconds float64) []int16 {
	n := int(seconds * audio.ProfileSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*220*float64(i)/audio.ProfileSampleRate))
	}
	return samples
}

func ptr(v float64) *float64 { return &v }

func TestEngineLoadsLazily(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}}
	loader, attempts := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())

	assert.Empty(t, *attempts)
	assert.False(t, engine.Stats().Loaded)

	_, err := engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.1)), DefaultOptions())
	require.NoError(t, err)
	_, err = engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.1)), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"cuda/float16"}, *attempts)
	stats := engine.Stats()
	assert.True(t, stats.Loaded)
	assert.Equal(t, "cuda/float16", stats.Mode)
	assert.Equal(t, uint64(2), stats.Calls)
}

func TestEngineFallsBackToCPU(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}}
	loader, attempts := loaderFor(model, "cuda")
	engine := NewEngine(loader, DefaultModes(), discardLogger())

	require.NoError(t, engine.Load(context.Background()))

	assert.Equal(t, []string{"cuda/float16", "cpu/int8"}, *attempts)
	assert.Equal(t, "cpu/int8", engine.Stats().Mode)
}

func TestEngineModelUnavailable(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}}
	loader, attempts := loaderFor(model, "cuda", "cpu")
	engine := NewEngine(loader, DefaultModes(), discardLogger())
	path := writeWAV(t, speechSamples(0.1))

	_, err := engine.Transcribe(context.Background(), path, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Contains(t, err.Error(), "cuda not available")
	assert.Contains(t, err.Error(), "cpu not available")
	assert.NotEmpty(t, engine.Stats().LastLoadErr)

	// nothing is cached after a failed load, so the next call tries again
	_, err = engine.Transcribe(context.Background(), path, DefaultOptions())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Len(t, *attempts, 4)
	assert.False(t, engine.Stats().Loaded)
}

func TestEngineFileNotFound(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}}
	loader, attempts := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())

	_, err := engine.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), DefaultOptions())
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Empty(t, *attempts)
}

func TestEngineRejectsUnknownTask(t *testing.T) {
	loader, _ := loaderFor(&fakeModel{out: &RawOutput{}})
	engine := NewEngine(loader, nil, discardLogger())

	opts := DefaultOptions()
	opts.Task = "summarize"
	_, err := engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.1)), opts)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestEngineSerializesCalls(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}, delay: 30 * time.Millisecond}
	loader, _ := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())

	paths := []string{
		writeWAV(t, speechSamples(0.1)),
		writeWAV(t, speechSamples(0.1)),
		writeWAV(t, speechSamples(0.1)),
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(paths))
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			_, err := engine.Transcribe(context.Background(), path, DefaultOptions())
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(3), model.calls.Load())
	assert.Equal(t, int32(1), model.maxActive.Load())
}

func TestEngineNormalizesOutput(t *testing.T) {
	model := &fakeModel{out: &RawOutput{
		Language:            "en",
		LanguageProbability: 0.98765,
		Duration:            4.256,
		Segments: []RawSegment{
			{Start: 2.004, End: 4.256, Text: "  second part ", AvgLogprob: ptr(-0.5)},
			{Start: 0, End: 2.004, Text: " Hello everyone.", AvgLogprob: ptr(-0.1)},
			{Start: 4.256, End: 4.256, Text: "   "},
		},
	}}
	loader, _ := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())

	res, err := engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.1)), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Hello everyone. second part", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 0.988, res.LanguageProbability)
	assert.Equal(t, 4.26, res.Duration)
	assert.Equal(t, 3, res.SegmentCount)

	require.Len(t, res.Segments, 3)
	assert.Equal(t, "Hello everyone.", res.Segments[0].Text)
	assert.Equal(t, 0.0, res.Segments[0].Start)
	assert.Equal(t, 2.0, res.Segments[0].End)
	require.NotNil(t, res.Segments[0].Confidence)
	assert.Equal(t, 0.905, *res.Segments[0].Confidence)

	require.NotNil(t, res.Segments[1].Confidence)
	assert.Equal(t, 0.607, *res.Segments[1].Confidence)
	assert.Equal(t, "", res.Segments[2].Text)
	assert.Nil(t, res.Segments[2].Confidence)
}

func TestConfidenceClamp(t *testing.T) {
	assert.Nil(t, confidence(RawSegment{}))
	assert.Equal(t, 1.0, *confidence(RawSegment{AvgLogprob: ptr(0.3)}))
	assert.Equal(t, 0.0, *confidence(RawSegment{AvgLogprob: ptr(-50)}))
	assert.Equal(t, 0.5, *confidence(RawSegment{Confidence: ptr(0.5), AvgLogprob: ptr(-3)}))
	assert.Equal(t, 1.0, *confidence(RawSegment{Confidence: ptr(1.7)}))
}

func TestEngineEmptyResult(t *testing.T) {
	loader, _ := loaderFor(&fakeModel{out: &RawOutput{Duration: 1.5}})
	engine := NewEngine(loader, nil, discardLogger())

	res, err := engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.1)), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Empty(t, res.Segments)
	assert.NotNil(t, res.Segments)
	assert.Equal(t, 0, res.SegmentCount)
}

func TestEngineSkipsSilence(t *testing.T) {
	model := &fakeModel{out: &RawOutput{Segments: []RawSegment{{Text: "hallucinated"}}}}
	loader, attempts := loaderFor(model)
	proc, err := vad.NewProcessor(0.01, 512, audio.ProfileSampleRate, 100*time.Millisecond)
	require.NoError(t, err)
	engine := NewEngine(loader, nil, discardLogger(), WithVoiceFilter(proc))

	silent := writeWAV(t, make([]int16, audio.ProfileSampleRate))
	res, err := engine.Transcribe(context.Background(), silent, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, SkipNoSpeech, res.Skipped)
	assert.Equal(t, 1.0, res.Duration)
	assert.Empty(t, *attempts)
	assert.Equal(t, uint64(1), engine.Stats().SilentSkips)
	filter := engine.Stats().VoiceFilter
	require.NotNil(t, filter)
	assert.Positive(t, filter.TotalWindows)
	assert.Zero(t, filter.VoiceWindows)

	// without the filter flag the model is consulted
	opts := DefaultOptions()
	opts.VADFilter = false
	res, err = engine.Transcribe(context.Background(), silent, opts)
	require.NoError(t, err)
	assert.Equal(t, "hallucinated", res.Text)
	assert.Empty(t, res.Skipped)

	// speech goes through to the model
	res, err = engine.Transcribe(context.Background(), writeWAV(t, speechSamples(0.5)), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "hallucinated", res.Text)
}

func TestEngineReloadsLostModel(t *testing.T) {
	lost := &fakeModel{err: errors.Join(ErrModelLost, errors.New("worker exited"))}
	healthy := &fakeModel{out: &RawOutput{Segments: []RawSegment{{Text: "back"}}}}

	var loads atomic.Int32
	loader := func(ctx context.Context, mode Mode) (Model, error) {
		if loads.Add(1) == 1 {
			return lost, nil
		}
		return healthy, nil
	}
	engine := NewEngine(loader, nil, discardLogger())
	path := writeWAV(t, speechSamples(0.1))

	_, err := engine.Transcribe(context.Background(), path, DefaultOptions())
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.ErrorIs(t, err, ErrModelLost)
	assert.True(t, lost.closed.Load())
	assert.False(t, engine.Stats().Loaded)

	res, err := engine.Transcribe(context.Background(), path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "back", res.Text)
	assert.Equal(t, int32(2), loads.Load())
}

func TestEngineBackendErrorKeepsModel(t *testing.T) {
	model := &fakeModel{err: errors.New("decode error")}
	loader, attempts := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())
	path := writeWAV(t, speechSamples(0.1))

	_, err := engine.Transcribe(context.Background(), path, DefaultOptions())
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	_, err = engine.Transcribe(context.Background(), path, DefaultOptions())
	assert.ErrorIs(t, err, ErrTranscriptionFailed)

	assert.Len(t, *attempts, 1)
	assert.False(t, model.closed.Load())
	assert.Equal(t, uint64(2), engine.Stats().Failures)
}

func TestEngineClose(t *testing.T) {
	model := &fakeModel{out: &RawOutput{}}
	loader, _ := loaderFor(model)
	engine := NewEngine(loader, nil, discardLogger())

	require.NoError(t, engine.Close(context.Background()))
	require.NoError(t, engine.Load(context.Background()))
	require.NoError(t, engine.Close(context.Background()))
	assert.True(t, model.closed.Load())
	assert.False(t, engine.Stats().Loaded)
}
