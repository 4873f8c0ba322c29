package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcode"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcript"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

// Transcoder converts buffered chunks into a canonical waveform
type Transcoder interface {
	ConvertStream(ctx context.Context, chunks [][]byte, outputID string) (string, error)
}

// Transcriber turns a waveform into a transcription result
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string, opts transcription.Options) (*transcription.Result, error)
}

// ArtifactWriter persists a result in several formats
type ArtifactWriter interface {
	WriteAll(result *transcription.Result, id string, formats []transcript.Format) (map[transcript.Format]string, map[transcript.Format]error)
}

// Publisher announces finished transcripts to other services
type Publisher interface {
	PublishTranscript(ctx context.Context, sessionID string, result *transcription.Result) error
}

// Pipeline holds the finalize stages shared by every session
type Pipeline struct {
	Transcoder Transcoder
	Engine     Transcriber
	Writer     ArtifactWriter
	Publisher  Publisher // optional
	Options    transcription.Options
	Formats    []transcript.Format
}

// Finalize outcomes, reported in session info
const (
	OutcomeNoAudio             = "no_audio"
	OutcomeConversionFailed    = "conversion_failed"
	OutcomeTranscriptionFailed = "transcription_failed"
	OutcomeWriteFailed         = "write_failed"
	OutcomeCompleted           = "completed"
)

const noAudioMessage = "No audio data received"

// finalize runs convert, transcribe and write for the buffered audio. Stage
// failures are reported to the client and end the sequence; they never
// propagate to the caller.
func (s *Session) finalize(ctx context.Context) string {
	start := time.Now()
	stats := s.buffer.Stats()

	if s.buffer.IsEmpty() {
		s.logger.Info("No audio to process")
		_ = s.Send(protocol.StreamEnded(noAudioMessage))
		return OutcomeNoAudio
	}

	s.logger.Info("Finalizing session audio",
		slog.Int("chunks", stats.ChunkCount),
		slog.Int64("bytes", stats.TotalBytes),
		slog.Float64("total_mb", stats.TotalMB))

	p := s.pipeline
	wavPath, err := p.Transcoder.ConvertStream(ctx, s.buffer.Snapshot(), s.ID)
	if err != nil {
		if errors.Is(err, transcode.ErrEmptyInput) {
			_ = s.Send(protocol.StreamEnded(noAudioMessage))
			return OutcomeNoAudio
		}
		s.fail("Failed to process audio", err)
		return OutcomeConversionFailed
	}
	_ = s.Send(protocol.AudioSaved(wavPath))

	_ = s.Send(protocol.TranscriptionStarted())
	result, err := p.Engine.Transcribe(ctx, wavPath, p.Options)
	if err != nil {
		s.fail("Failed to transcribe audio", err)
		return OutcomeTranscriptionFailed
	}

	formats := p.Formats
	if len(formats) == 0 {
		formats = transcript.DefaultFormats()
	}
	written, failed := p.Writer.WriteAll(result, s.ID, formats)
	if len(written) == 0 {
		s.fail("Failed to generate transcript", joinFormatErrors(failed))
		return OutcomeWriteFailed
	}

	info := protocol.CompleteInfo{
		Files:        make(map[string]string, len(written)),
		Text:         result.Text,
		Language:     result.Language,
		Duration:     result.Duration,
		SegmentCount: result.SegmentCount,
		Skipped:      result.Skipped,
	}
	for f, path := range written {
		info.Files[string(f)] = path
	}
	if len(failed) > 0 {
		info.FailedFormats = make(map[string]string, len(failed))
		for f, ferr := range failed {
			info.FailedFormats[string(f)] = ferr.Error()
		}
	}
	if txt, ok := written[transcript.FormatTXT]; ok {
		if data, err := os.ReadFile(txt); err == nil {
			info.TextArtifact = string(data)
		}
	}
	_ = s.Send(protocol.TranscriptionComplete(info))

	s.logger.Info("Transcription complete",
		slog.Int("files", len(written)),
		slog.Int("failed_formats", len(failed)),
		slog.String("language", result.Language),
		slog.Float64("audio_duration", result.Duration),
		slog.String("skipped", result.Skipped),
		slog.Duration("elapsed", time.Since(start)))

	if p.Publisher != nil && result.Text != "" {
		if err := p.Publisher.PublishTranscript(ctx, s.ID, result); err != nil {
			s.logger.Warn("Failed to publish transcript event",
				slog.String("error", err.Error()))
		}
	}

	return OutcomeCompleted
}

func (s *Session) fail(stage string, err error) {
	s.logger.Error(stage, slog.String("error", err.Error()))
	_ = s.Send(protocol.Error(fmt.Sprintf("%s: %v", stage, err)))
}

func joinFormatErrors(failed map[transcript.Format]error) error {
	if len(failed) == 0 {
		return errors.New("no transcript formats configured")
	}
	names := make([]string, 0, len(failed))
	for f := range failed {
		names = append(names, string(f))
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, failed[transcript.Format(n)]))
	}
	return errors.New(strings.Join(parts, "; "))
}
