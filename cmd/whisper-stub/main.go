// Command whisper-stub is a fake whisper-compatible transcription server for
// local runs of the http backend. It answers every upload with a fixed
// verbose_json transcript sized to the uploaded waveform.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
)

type segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type verboseJSON struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []segment `json:"segments"`
}

var phrases = []string{
	"Good morning everyone, let's get started.",
	"First item on the agenda is the release schedule.",
	"We will follow up on the open questions by Friday.",
}

type stub struct {
	logger *slog.Logger
	delay  time.Duration
}

func (s *stub) transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	duration := 0.0
	if info, err := audio.ReadWAVInfo(bytes.NewReader(data)); err == nil {
		duration = info.Duration
	}

	s.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(data)),
		slog.Float64("duration", duration),
		slog.String("model", r.FormValue("model")),
		slog.String("task", r.FormValue("task")),
		slog.String("language", r.FormValue("language")),
		slog.String("response_format", r.FormValue("response_format")),
	)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	resp := fakeTranscript(duration, r.FormValue("language"))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// fakeTranscript spreads the canned phrases evenly over the waveform
func fakeTranscript(duration float64, language string) verboseJSON {
	if language == "" {
		language = "en"
	}
	resp := verboseJSON{Language: language, LanguageProbability: 0.98, Duration: duration}
	if duration <= 0 {
		return resp
	}

	step := duration / float64(len(phrases))
	for i, p := range phrases {
		start := math.Round(float64(i)*step*100) / 100
		end := math.Round(float64(i+1)*step*100) / 100
		resp.Segments = append(resp.Segments, segment{Start: start, End: end, Text: " " + p, AvgLogprob: -0.15})
		if resp.Text != "" {
			resp.Text += " "
		}
		resp.Text += p
	}
	return resp
}

func newRouter(s *stub) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/audio/transcriptions", s.transcribe)
	r.Post("/transcribe", s.transcribe)
	return r
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &stub{logger: logger, delay: *delay}

	logger.Info("Whisper stub starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/v1/audio/transcriptions"))

	if err := http.ListenAndServe(*addr, newRouter(s)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
