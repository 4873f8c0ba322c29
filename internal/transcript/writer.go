package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcode"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

var ErrUnsupportedFormat = errors.New("unsupported transcript format")

// Format is a transcript artifact type, named by its file extension
type Format string

const (
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// DefaultFormats are written when the configuration names none
func DefaultFormats() []Format {
	return []Format{FormatTXT, FormatJSON}
}

// ParseFormat accepts a format name in any case
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatTXT, FormatJSON, FormatSRT, FormatVTT:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

const ruleWidth = 80

// Writer renders transcription results into files under one directory.
// The path for an (id, format) pair is fixed, so writing again replaces it.
type Writer struct {
	dir     string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWriter creates the output directory if needed
func NewWriter(dir string, logger *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger, metrics: m, now: time.Now}, nil
}

// Path returns where the artifact for id in format f is written
func (w *Writer) Path(id string, f Format) string {
	return filepath.Join(w.dir, transcode.SanitizeID(id)+"."+string(f))
}

// Write renders result in format f and returns the artifact path
func (w *Writer) Write(result *transcription.Result, id string, f Format) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil transcription result")
	}

	var (
		data []byte
		err  error
	)
	switch f {
	case FormatTXT:
		data = w.renderText(result, transcode.SanitizeID(id))
	case FormatJSON:
		data, err = renderJSON(result)
	case FormatSRT:
		data = renderSRT(result)
	case FormatVTT:
		data = renderVTT(result)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		w.metrics.RecordArtifact(string(f), false)
		return "", err
	}

	path := w.Path(id, f)
	if err := writeFileAtomic(path, data); err != nil {
		w.metrics.RecordArtifact(string(f), false)
		return "", fmt.Errorf("write %s transcript: %w", f, err)
	}
	w.metrics.RecordArtifact(string(f), true)

	w.logger.Info("Transcript saved",
		slog.String("format", string(f)),
		slog.String("path", path),
		slog.Int("bytes", len(data)))

	return path, nil
}

// WriteAll attempts every format independently. The first map holds the
// artifacts that were written, the second the formats that failed.
func (w *Writer) WriteAll(result *transcription.Result, id string, formats []Format) (map[Format]string, map[Format]error) {
	written := make(map[Format]string, len(formats))
	failed := make(map[Format]error)

	for _, f := range formats {
		path, err := w.Write(result, id, f)
		if err != nil {
			w.logger.Warn("Failed to save transcript format",
				slog.String("format", string(f)),
				slog.String("error", err.Error()))
			failed[f] = err
			continue
		}
		written[f] = path
	}
	return written, failed
}

// ReadJSON loads a result previously written in the json format
func ReadJSON(path string) (*transcription.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result transcription.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &result, nil
}

func (w *Writer) renderText(r *transcription.Result, name string) []byte {
	var buf bytes.Buffer
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	fmt.Fprintf(&buf, "Meeting Transcript - %s\n", name)
	fmt.Fprintf(&buf, "%s\n", rule)
	fmt.Fprintf(&buf, "Language: %s\n", r.Language)
	fmt.Fprintf(&buf, "Duration: %ss\n", strconv.FormatFloat(r.Duration, 'f', -1, 64))
	fmt.Fprintf(&buf, "Generated: %s\n", w.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "%s\n\n", rule)

	fmt.Fprintf(&buf, "FULL TRANSCRIPT:\n%s\n", thin)
	buf.WriteString(r.Text)
	buf.WriteString("\n\n")

	fmt.Fprintf(&buf, "TIMESTAMPED SEGMENTS:\n%s\n", thin)
	for _, s := range r.Segments {
		fmt.Fprintf(&buf, "[%s] %s\n", clock(s.Start), s.Text)
	}
	return buf.Bytes()
}

func renderJSON(r *transcription.Result) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return buf.Bytes(), nil
}

func renderSRT(r *transcription.Result) []byte {
	var buf bytes.Buffer
	for i, s := range r.Segments {
		fmt.Fprintf(&buf, "%d\n", i+1)
		fmt.Fprintf(&buf, "%s --> %s\n", cueTime(s.Start, ','), cueTime(s.End, ','))
		fmt.Fprintf(&buf, "%s\n\n", s.Text)
	}
	return buf.Bytes()
}

func renderVTT(r *transcription.Result) []byte {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")
	for _, s := range r.Segments {
		fmt.Fprintf(&buf, "%s --> %s\n", cueTime(s.Start, '.'), cueTime(s.End, '.'))
		fmt.Fprintf(&buf, "%s\n\n", s.Text)
	}
	return buf.Bytes()
}

// clock formats whole seconds as HH:MM:SS
func clock(seconds float64) string {
	total := int64(math.Max(0, seconds))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

// cueTime formats seconds as HH:MM:SS<sep>mmm, rounded to the millisecond
func cueTime(seconds float64, sep byte) string {
	ms := int64(math.Round(math.Max(0, seconds) * 1000))
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", ms/3_600_000, ms%3_600_000/60_000, ms%60_000/1000, sep, ms%1000)
}

// writeFileAtomic writes to a temporary file next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
