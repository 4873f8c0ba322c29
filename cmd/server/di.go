package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/config"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/events"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/metrics"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/server"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/session"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcode"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcript"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/vad"
)

func setupDI(cfg *config.Config, logger *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)

	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.NewMetrics(prometheus.DefaultRegisterer), nil
	})

	do.Provide(injector, func(i do.Injector) (*transcode.Transcoder, error) {
		c := do.MustInvoke[*config.Config](i)
		return transcode.New(transcode.Config{
			FFmpegPath:   c.Transcoder.FFmpegPath,
			AudioDir:     c.Storage.AudioDir,
			InputFormat:  c.Transcoder.InputFormat,
			SampleRate:   c.Transcoder.SampleRate,
			Channels:     c.Transcoder.Channels,
			Timeout:      c.Transcoder.GetTimeoutDuration(),
			KeepSidecar:  c.Storage.KeepSidecar,
			VerifyOutput: c.Transcoder.VerifyOutput,
		}, do.MustInvoke[*slog.Logger](i).With(slog.String("component", "transcoder")))
	})

	do.Provide(injector, func(i do.Injector) (*transcription.Engine, error) {
		c := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i).With(slog.String("component", "engine"))
		m := do.MustInvoke[*metrics.Metrics](i)

		loader, err := newLoader(c, log, m)
		if err != nil {
			return nil, err
		}

		voice, err := vad.NewProcessor(c.VAD.Threshold, c.VAD.WindowSize, c.Transcoder.SampleRate, c.VAD.GetMinSpeechDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create voice filter: %w", err)
		}

		modes := make([]transcription.Mode, 0, len(c.Transcription.Modes))
		for _, mode := range c.Transcription.Modes {
			modes = append(modes, transcription.Mode{Device: mode.Device, ComputeType: mode.ComputeType})
		}

		return transcription.NewEngine(loader, modes, log,
			transcription.WithMetrics(m),
			transcription.WithVoiceFilter(voice),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*transcript.Writer, error) {
		c := do.MustInvoke[*config.Config](i)
		return transcript.NewWriter(c.Storage.TranscriptDir,
			do.MustInvoke[*slog.Logger](i).With(slog.String("component", "writer")),
			do.MustInvoke[*metrics.Metrics](i))
	})

	do.Provide(injector, func(i do.Injector) (*events.RedisPublisher, error) {
		c := do.MustInvoke[*config.Config](i)
		client := redis.NewClient(&redis.Options{
			Addr:     c.Events.RedisAddress,
			Password: c.Events.RedisPassword,
			DB:       c.Events.RedisDB,
		})
		return events.NewRedisPublisher(client,
			do.MustInvoke[*slog.Logger](i).With(slog.String("component", "events")),
			do.MustInvoke[*metrics.Metrics](i),
			events.WithChannel(c.Events.Channel),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*session.Pipeline, error) {
		c := do.MustInvoke[*config.Config](i)

		formats := make([]transcript.Format, 0, len(c.Transcription.Formats))
		for _, name := range c.Transcription.Formats {
			f, err := transcript.ParseFormat(name)
			if err != nil {
				return nil, err
			}
			formats = append(formats, f)
		}

		p := &session.Pipeline{
			Transcoder: do.MustInvoke[*transcode.Transcoder](i),
			Engine:     do.MustInvoke[*transcription.Engine](i),
			Writer:     do.MustInvoke[*transcript.Writer](i),
			Options: transcription.Options{
				Language:  c.Transcription.Language,
				Task:      transcription.Task(c.Transcription.Task),
				BeamSize:  c.Transcription.BeamSize,
				VADFilter: c.Transcription.VADFilter,
			},
			Formats: formats,
		}
		if c.Events.Enabled {
			p.Publisher = do.MustInvoke[*events.RedisPublisher](i)
		}
		return p, nil
	})

	do.Provide(injector, func(i do.Injector) (*session.Manager, error) {
		return session.NewManager(
			do.MustInvoke[*session.Pipeline](i),
			session.NewDefaultRouter(),
			do.MustInvoke[*slog.Logger](i),
			do.MustInvoke[*metrics.Metrics](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*server.HTTPServer, error) {
		return server.NewHTTPServer(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*slog.Logger](i).With(slog.String("component", "http")),
			do.MustInvoke[*session.Manager](i),
			do.MustInvoke[*transcription.Engine](i),
			do.MustInvoke[*metrics.Metrics](i),
			prometheus.DefaultGatherer,
		), nil
	})

	return injector
}

// newLoader picks the model backend named in the configuration
func newLoader(c *config.Config, logger *slog.Logger, m *metrics.Metrics) (transcription.Loader, error) {
	t := c.Transcription
	switch t.Backend {
	case "worker":
		return transcription.NewWorkerLoader(transcription.WorkerConfig{
			Python:       t.Worker.Python,
			Script:       t.Worker.Script,
			ModelSize:    t.Worker.ModelSize,
			StartTimeout: t.Worker.GetStartTimeoutDuration(),
		}, logger), nil
	case "http":
		return transcription.NewHTTPLoader(transcription.HTTPConfig{
			Endpoint:   t.HTTP.Endpoint,
			APIKey:     t.HTTP.APIKey,
			Model:      t.HTTP.Model,
			Timeout:    t.HTTP.GetTimeoutDuration(),
			MaxRetries: t.HTTP.MaxRetries,
			Backoff:    t.HTTP.GetRetryBackoffDuration(),
		}, m), nil
	case "cloudspeech":
		return transcription.NewCloudSpeechLoader(transcription.CloudSpeechConfig{
			ProjectID:       t.CloudSpeech.ProjectID,
			CredentialsJSON: t.CloudSpeech.CredentialsJSON,
			Location:        t.CloudSpeech.Location,
			Language:        t.CloudSpeech.Language,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", t.Backend)
	}
}
