package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
)

// Conversion errors
var (
	ErrConversionFailed = errors.New("audio conversion failed")
	ErrEmptyInput       = errors.New("no audio data to convert")
	ErrFFmpegNotFound   = errors.New("ffmpeg not found")
	ErrFFmpegTimeout    = errors.New("ffmpeg execution timed out")
)

const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultInputFormat = "webm"
	DefaultTimeout     = 5 * time.Minute

	maxStderrBytes = 8 * 1024
)

// ConversionError describes a failed ffmpeg run. It matches ErrConversionFailed
// with errors.Is, as well as the underlying cause.
type ConversionError struct {
	OutputID string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("audio conversion failed for %s", e.OutputID)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversionFailed}
	}
	return []error{ErrConversionFailed, e.Err}
}

// Config configures the ffmpeg invocation and output locations
type Config struct {
	FFmpegPath   string
	AudioDir     string
	InputFormat  string // container of the live chunks; empty lets ffmpeg probe
	SampleRate   int
	Channels     int
	Timeout      time.Duration
	KeepSidecar  bool // keep <id>.input.<input_format> next to the waveform
	VerifyOutput bool
}

// Transcoder converts encoded audio into the canonical mono 16 kHz 16-bit WAV
// profile by piping it through an external ffmpeg process
type Transcoder struct {
	config Config
	logger *slog.Logger
}

// New creates a transcoder and makes sure the audio directory exists
func New(config Config, logger *slog.Logger) (*Transcoder, error) {
	if config.FFmpegPath == "" {
		config.FFmpegPath = DefaultFFmpegPath
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.ProfileSampleRate
	}
	if config.Channels <= 0 {
		config.Channels = audio.ProfileChannels
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.AudioDir == "" {
		return nil, fmt.Errorf("audio directory cannot be empty")
	}
	if err := os.MkdirAll(config.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory %s: %w", config.AudioDir, err)
	}

	return &Transcoder{
		config: config,
		logger: logger,
	}, nil
}

// OutputPath returns the deterministic waveform path for an output identifier
func (t *Transcoder) OutputPath(outputID string) string {
	return filepath.Join(t.config.AudioDir, SanitizeID(outputID)+".wav")
}

// SidecarPath returns the path of the raw input copy for an output identifier.
// The ".input" infix keeps it apart from the waveform when the input is wav.
func (t *Transcoder) SidecarPath(outputID string) string {
	ext := t.config.InputFormat
	if ext == "" {
		ext = DefaultInputFormat
	}
	return filepath.Join(t.config.AudioDir, SanitizeID(outputID)+".input."+ext)
}

// ConvertStream feeds the chunks, in order, to ffmpeg over stdin and returns the
// path of the produced waveform. Zero total bytes returns ErrEmptyInput without
// starting ffmpeg.
func (t *Transcoder) ConvertStream(ctx context.Context, chunks [][]byte, outputID string) (string, error) {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return "", ErrEmptyInput
	}

	sidecar := t.SidecarPath(outputID)
	if err := writeChunks(sidecar, chunks); err != nil {
		t.logger.Warn("Failed to write raw audio sidecar",
			slog.String("path", sidecar),
			slog.String("error", err.Error()))
	} else if !t.config.KeepSidecar {
		defer os.Remove(sidecar)
	}

	outPath := t.OutputPath(outputID)
	_ = os.Remove(outPath)
	args := t.buildArgs("pipe:0", outPath, true)

	start := time.Now()
	if err := t.run(ctx, args, chunks, outputID); err != nil {
		return "", err
	}
	if err := t.checkOutput(outPath, outputID); err != nil {
		return "", err
	}

	t.logger.Info("Audio converted",
		slog.String("output_id", outputID),
		slog.String("path", outPath),
		slog.Int("chunks", len(chunks)),
		slog.Int("input_bytes", total),
		slog.Duration("elapsed", time.Since(start)))

	return outPath, nil
}

// ConvertFile converts a complete media file. The input file is removed
// afterwards whether or not the conversion succeeded.
func (t *Transcoder) ConvertFile(ctx context.Context, inputPath, outputID string) (string, error) {
	defer func() {
		if err := os.Remove(inputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("Failed to remove conversion input",
				slog.String("path", inputPath),
				slog.String("error", err.Error()))
		}
	}()

	st, err := os.Stat(inputPath)
	if err != nil {
		return "", &ConversionError{OutputID: outputID, Err: err}
	}
	if st.Size() == 0 {
		return "", ErrEmptyInput
	}

	outPath := t.OutputPath(outputID)
	_ = os.Remove(outPath)
	args := t.buildArgs(inputPath, outPath, false)

	if err := t.run(ctx, args, nil, outputID); err != nil {
		return "", err
	}
	if err := t.checkOutput(outPath, outputID); err != nil {
		return "", err
	}

	t.logger.Info("Media file converted",
		slog.String("output_id", outputID),
		slog.String("input", inputPath),
		slog.String("path", outPath))

	return outPath, nil
}

func (t *Transcoder) buildArgs(input, output string, streamed bool) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if streamed && t.config.InputFormat != "" {
		args = append(args, "-f", t.config.InputFormat)
	}
	args = append(args,
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(t.config.Channels),
		"-ar", strconv.Itoa(t.config.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		output,
	)
	return args
}

// run starts ffmpeg and drains all three pipes concurrently so that a full
// stderr or stdout pipe can never block the stdin writer
func (t *Transcoder) run(ctx context.Context, args []string, chunks [][]byte, outputID string) error {
	runCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.config.FFmpegPath, args...)

	var stdin io.WriteCloser
	var err error
	if chunks != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return &ConversionError{OutputID: outputID, Err: err}
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ConversionError{OutputID: outputID, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &ConversionError{OutputID: outputID, Err: err}
	}

	t.logger.Debug("Running ffmpeg",
		slog.String("output_id", outputID),
		slog.String("args", strings.Join(args, " ")))

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return &ConversionError{OutputID: outputID, Err: ErrFFmpegNotFound}
		}
		return &ConversionError{OutputID: outputID, Err: err}
	}

	stderr := &tailBuffer{limit: maxStderrBytes}
	var g errgroup.Group

	if stdin != nil {
		g.Go(func() error {
			defer stdin.Close()
			for _, c := range chunks {
				if _, err := stdin.Write(c); err != nil {
					// ffmpeg exited early; its exit status tells the real story
					if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
						return nil
					}
					return fmt.Errorf("failed to write to ffmpeg stdin: %w", err)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := io.Copy(io.Discard, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, stderrPipe)
		return err
	})

	pipeErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &ConversionError{OutputID: outputID, Stderr: stderr.String(), Err: ErrFFmpegTimeout}
		}
		if ctx.Err() != nil {
			return &ConversionError{OutputID: outputID, Stderr: stderr.String(), Err: ctx.Err()}
		}
		convErr := &ConversionError{OutputID: outputID, Stderr: stderr.String(), Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			convErr.ExitCode = exitErr.ExitCode()
		}
		t.logger.Error("ffmpeg failed",
			slog.String("output_id", outputID),
			slog.Int("exit_code", convErr.ExitCode),
			slog.String("stderr", convErr.Stderr))
		return convErr
	}
	if pipeErr != nil {
		return &ConversionError{OutputID: outputID, Stderr: stderr.String(), Err: pipeErr}
	}

	return nil
}

func (t *Transcoder) checkOutput(outPath, outputID string) error {
	st, err := os.Stat(outPath)
	if err != nil {
		return &ConversionError{OutputID: outputID, Err: fmt.Errorf("output not produced: %w", err)}
	}
	if st.Size() == 0 {
		return &ConversionError{OutputID: outputID, Err: fmt.Errorf("output file %s is empty", outPath)}
	}
	if t.config.VerifyOutput {
		if _, err := audio.VerifyProfile(outPath); err != nil {
			return &ConversionError{OutputID: outputID, Err: err}
		}
	}
	return nil
}

func writeChunks(path string, chunks [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := f.Write(c); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
