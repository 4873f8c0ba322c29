package transcription

import (
	"context"
	"errors"
	"fmt"
)

// Engine errors
var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrFileNotFound        = errors.New("audio file not found")
	ErrModelUnavailable    = errors.New("no transcription model could be loaded")

	// ErrModelLost is returned by a backend whose model process died; the
	// engine drops it and loads again on the next call
	ErrModelLost = errors.New("transcription model is no longer available")
)

// Task selects between same-language transcription and translation to English
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Valid reports whether t is a known task
func (t Task) Valid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// Options tune a single transcription call
type Options struct {
	Language  string // empty = auto-detect
	Task      Task
	BeamSize  int
	VADFilter bool
}

// DefaultOptions returns the options used when a caller has no preference
func DefaultOptions() Options {
	return Options{
		Task:      TaskTranscribe,
		BeamSize:  5,
		VADFilter: true,
	}
}

// Segment is one time-bounded piece of recognized speech
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// Result is the outcome of transcribing one waveform. It is not modified
// after Transcribe returns.
type Result struct {
	Text                string    `json:"text"`
	Segments            []Segment `json:"segments"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	SegmentCount        int       `json:"segment_count"`
	Skipped             string    `json:"skipped,omitempty"` // set when the model was not consulted
}

// StatsReporter is implemented by models that keep their own counters
type StatsReporter interface {
	BackendStats() any
}

// SkipNoSpeech marks a result produced without the model because the voice
// filter found no speech
const SkipNoSpeech = "no_speech"

// Mode is a device / numeric precision pair a model can be loaded with
type Mode struct {
	Device      string `yaml:"device" json:"device"`
	ComputeType string `yaml:"compute_type" json:"compute_type"`
}

func (m Mode) String() string {
	if m.ComputeType == "" {
		return m.Device
	}
	return fmt.Sprintf("%s/%s", m.Device, m.ComputeType)
}

// DefaultModes is the preferred accelerated mode followed by the CPU fallback
func DefaultModes() []Mode {
	return []Mode{
		{Device: "cuda", ComputeType: "float16"},
		{Device: "cpu", ComputeType: "int8"},
	}
}

// RawSegment is a segment as reported by a backend, before normalization
type RawSegment struct {
	Start      float64
	End        float64
	Text       string
	AvgLogprob *float64 // log probability, when the backend reports it
	Confidence *float64 // direct 0..1 confidence, when the backend reports it
}

// RawOutput is what a backend returns for one waveform
type RawOutput struct {
	Language            string
	LanguageProbability float64
	Duration            float64
	Segments            []RawSegment
}

// Model is a loaded speech-to-text backend
type Model interface {
	Transcribe(ctx context.Context, wavPath string, opts Options) (*RawOutput, error)
	Close() error
}

// Loader loads a model in the given mode
type Loader func(ctx context.Context, mode Mode) (Model, error)
