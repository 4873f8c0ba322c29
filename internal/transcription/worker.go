package transcription

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

//go:embed assets/whisper_worker.py
var workerScript []byte

// WorkerConfig configures the faster-whisper helper process
type WorkerConfig struct {
	Python       string        // interpreter, default python3
	Script       string        // helper path; empty uses the embedded script
	ModelSize    string        // tiny, base, small, medium, large-v3
	StartTimeout time.Duration // time allowed for the model to load
}

// NewWorkerLoader returns a Loader that starts one persistent faster-whisper
// process per loaded mode
func NewWorkerLoader(cfg WorkerConfig, logger *slog.Logger) Loader {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.ModelSize == "" {
		cfg.ModelSize = "base"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Minute
	}
	return func(ctx context.Context, mode Mode) (Model, error) {
		w, err := startWorker(ctx, cfg, mode, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

type workerRequest struct {
	ID        uint64 `json:"id"`
	Audio     string `json:"audio"`
	Language  string `json:"language,omitempty"`
	Task      string `json:"task"`
	BeamSize  int    `json:"beam_size"`
	VADFilter bool   `json:"vad_filter"`
}

type workerResponse struct {
	ID                  uint64  `json:"id"`
	Ready               bool    `json:"ready"`
	OK                  bool    `json:"ok"`
	Error               string  `json:"error"`
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

// workerModel talks JSON lines to a long-lived helper process
type workerModel struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	lines      chan []byte // closed when stdout reaches EOF
	exited     chan struct{}
	exitOnce   sync.Once
	mode       Mode
	tempScript string
	logger     *slog.Logger

	mu     sync.Mutex
	nextID uint64
}

func startWorker(ctx context.Context, cfg WorkerConfig, mode Mode, logger *slog.Logger) (*workerModel, error) {
	script := cfg.Script
	tempScript := ""
	if script == "" {
		f, err := os.CreateTemp("", "whisper_worker_*.py")
		if err != nil {
			return nil, fmt.Errorf("write helper script: %w", err)
		}
		if _, err := f.Write(workerScript); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("write helper script: %w", err)
		}
		f.Close()
		script = f.Name()
		tempScript = script
	}

	cmd := exec.Command(cfg.Python, script,
		"--model", cfg.ModelSize,
		"--device", mode.Device,
		"--compute-type", mode.ComputeType)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		if tempScript != "" {
			os.Remove(tempScript)
		}
		return nil, fmt.Errorf("start helper: %w", err)
	}

	w := &workerModel{
		cmd:        cmd,
		stdin:      stdin,
		lines:      make(chan []byte, 1),
		exited:     make(chan struct{}),
		mode:       mode,
		tempScript: tempScript,
		logger:     logger.With(slog.String("mode", mode.String())),
	}
	go w.readLines(stdout)
	go w.logStderr(stderr)

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()

	select {
	case line, ok := <-w.lines:
		if !ok {
			w.kill()
			return nil, fmt.Errorf("helper exited before becoming ready")
		}
		var resp workerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			w.kill()
			return nil, fmt.Errorf("parse helper handshake: %w", err)
		}
		if !resp.Ready {
			w.kill()
			if resp.Error != "" {
				return nil, errors.New(resp.Error)
			}
			return nil, fmt.Errorf("unexpected helper handshake: %s", line)
		}
	case <-startCtx.Done():
		w.kill()
		return nil, fmt.Errorf("helper did not become ready: %w", startCtx.Err())
	}

	return w, nil
}

func (w *workerModel) readLines(r io.Reader) {
	defer close(w.lines)
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case w.lines <- line:
			case <-w.exited:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (w *workerModel) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w.logger.Debug("whisper worker", slog.String("stderr", scanner.Text()))
	}
}

// Transcribe sends one request and waits for the matching response.
// Responses to abandoned requests are discarded.
func (w *workerModel) Transcribe(ctx context.Context, wavPath string, opts Options) (*RawOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	req := workerRequest{
		ID:        w.nextID,
		Audio:     wavPath,
		Language:  opts.Language,
		Task:      string(opts.Task),
		BeamSize:  opts.BeamSize,
		VADFilter: opts.VADFilter,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrModelLost, err)
	}

	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return nil, fmt.Errorf("%w: helper exited", ErrModelLost)
			}
			var resp workerResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				return nil, fmt.Errorf("parse helper response: %w", err)
			}
			if resp.ID != req.ID {
				w.logger.Debug("Discarding stale worker response", slog.Uint64("id", resp.ID))
				continue
			}
			if !resp.OK {
				return nil, errors.New(resp.Error)
			}
			return resp.toRawOutput(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *workerResponse) toRawOutput() *RawOutput {
	out := &RawOutput{
		Language:            r.Language,
		LanguageProbability: r.LanguageProbability,
		Duration:            r.Duration,
		Segments:            make([]RawSegment, 0, len(r.Segments)),
	}
	for _, s := range r.Segments {
		out.Segments = append(out.Segments, RawSegment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			AvgLogprob: s.AvgLogprob,
		})
	}
	return out
}

func (w *workerModel) markExited() {
	w.exitOnce.Do(func() { close(w.exited) })
}

func (w *workerModel) kill() {
	w.markExited()
	_ = w.cmd.Process.Kill()
	_ = w.cmd.Wait()
	if w.tempScript != "" {
		os.Remove(w.tempScript)
	}
}

// Close asks the helper to exit by closing its stdin, killing it if it lingers
func (w *workerModel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		_ = w.cmd.Process.Kill()
		err = <-done
	}

	w.markExited()
	if w.tempScript != "" {
		os.Remove(w.tempScript)
	}
	return err
}
