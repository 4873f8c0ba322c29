package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Processor is an energy based voice activity detector working on fixed
// windows of 16-bit PCM samples
type Processor struct {
	threshold  float32
	windowSize int // Samples per window (512 = 32ms at 16kHz)
	sampleRate int
	minSpeech  time.Duration

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// VoiceSpan represents a continuous run of voiced windows
type VoiceSpan struct {
	Start    float64 `json:"start"` // seconds from the start of the waveform
	End      float64 `json:"end"`
	AvgLevel float32 `json:"avg_level"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int, minSpeech time.Duration) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		minSpeech:  minSpeech,
	}, nil
}

// Level returns the normalized RMS level of a window in the range 0..1
func Level(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	// Normalize energy to 0-1 range (assuming max speech energy around 10000)
	level := energy / 10000.0
	if level > 1.0 {
		level = 1.0
	}
	return float32(level)
}

// Detect scans the waveform window by window and returns the voiced spans.
// Spans shorter than the configured minimum speech duration are dropped.
func (p *Processor) Detect(samples []int16) []VoiceSpan {
	p.mu.Lock()
	defer p.mu.Unlock()

	var spans []VoiceSpan
	var current *VoiceSpan
	var levelSum float32
	var levelCount int

	secondsPer := float64(p.windowSize) / float64(p.sampleRate)
	closeSpan := func(end float64) {
		current.End = end
		current.AvgLevel = levelSum / float32(levelCount)
		if time.Duration((current.End-current.Start)*float64(time.Second)) >= p.minSpeech {
			spans = append(spans, *current)
		}
		current = nil
	}

	for i := 0; i < len(samples); i += p.windowSize {
		end := i + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}
		level := Level(samples[i:end])
		voiced := level >= p.threshold

		p.totalWindows++
		if voiced {
			p.voiceWindows++
		}

		start := float64(i/p.windowSize) * secondsPer
		switch {
		case voiced && current == nil:
			current = &VoiceSpan{Start: start}
			levelSum, levelCount = level, 1
		case voiced:
			levelSum += level
			levelCount++
		case current != nil:
			closeSpan(start)
		}
	}

	if current != nil {
		closeSpan(float64(len(samples)) / float64(p.sampleRate))
	}

	p.lastProcessed = time.Now()
	return spans
}

// HasSpeech reports whether any voiced span is found in the waveform
func (p *Processor) HasSpeech(samples []int16) bool {
	return len(p.Detect(samples)) > 0
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}
