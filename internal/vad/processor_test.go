package vad

import (
	"math"
	"testing"
	"time"
)

func tone(n int, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return samples
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		expectErr  bool
	}{
		{"valid parameters", 0.05, 512, 16000, false},
		{"threshold too high", 1.5, 512, 16000, true},
		{"negative threshold", -0.1, 512, 16000, true},
		{"zero window", 0.05, 0, 16000, true},
		{"zero sample rate", 0.05, 512, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate, 0)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	if Level(nil) != 0 {
		t.Error("Expected zero level for empty window")
	}
	if Level(make([]int16, 512)) != 0 {
		t.Error("Expected zero level for silence")
	}
	if l := Level(tone(512, 30000)); l != 1 {
		t.Errorf("Expected loud tone to clip at 1, got %f", l)
	}
}

func TestDetectSilence(t *testing.T) {
	p, _ := NewProcessor(0.05, 512, 16000, 0)

	if p.HasSpeech(make([]int16, 16000)) {
		t.Error("Expected no speech in digital silence")
	}

	stats := p.GetStats()
	if stats.TotalWindows != 32 {
		t.Errorf("Expected 32 windows, got %d", stats.TotalWindows)
	}
	if stats.VoiceWindows != 0 {
		t.Errorf("Expected 0 voice windows, got %d", stats.VoiceWindows)
	}
}

func TestDetectSpan(t *testing.T) {
	p, _ := NewProcessor(0.05, 512, 16000, 0)

	// 0.5s silence, 0.5s tone, 0.5s silence
	samples := append(make([]int16, 8192), tone(8192, 8000)...)
	samples = append(samples, make([]int16, 8192)...)

	spans := p.Detect(samples)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if math.Abs(spans[0].Start-0.512) > 0.001 {
		t.Errorf("Expected span start 0.512, got %f", spans[0].Start)
	}
	if math.Abs(spans[0].End-1.024) > 0.001 {
		t.Errorf("Expected span end 1.024, got %f", spans[0].End)
	}
	if spans[0].AvgLevel <= 0.05 {
		t.Errorf("Expected average level above threshold, got %f", spans[0].AvgLevel)
	}
}

func TestDetectMinSpeech(t *testing.T) {
	p, _ := NewProcessor(0.05, 512, 16000, 250*time.Millisecond)

	// one voiced window is 32ms, below the minimum
	samples := append(tone(512, 8000), make([]int16, 4096)...)
	if p.HasSpeech(samples) {
		t.Error("Expected short blip to be ignored")
	}

	// span running to the end of the waveform is closed at the last sample
	if !p.HasSpeech(tone(8000, 8000)) {
		t.Error("Expected 0.5s tone to count as speech")
	}
}
