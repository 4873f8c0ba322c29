package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/config"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/events"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/server"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/session"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meeting-agent-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional .env file with environment overrides")
	preload := flag.Bool("preload", false, "Load the transcription model at startup instead of on first use")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Addr()),
		slog.String("audio_dir", cfg.Storage.AudioDir),
		slog.String("transcript_dir", cfg.Storage.TranscriptDir),
		slog.String("ffmpeg_path", cfg.Transcoder.FFmpegPath),
		slog.String("backend", cfg.Transcription.Backend),
		slog.Any("formats", cfg.Transcription.Formats),
		slog.Bool("events_enabled", cfg.Events.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	injector := setupDI(cfg, logger)

	engine, err := do.Invoke[*transcription.Engine](injector)
	if err != nil {
		logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	httpServer, err := do.Invoke[*server.HTTPServer](injector)
	if err != nil {
		logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var publisher *events.RedisPublisher
	if cfg.Events.Enabled {
		publisher = do.MustInvoke[*events.RedisPublisher](injector)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			// transcripts are still written to disk; only the event is lost
			logger.Warn("Redis unreachable, transcript events will fail",
				slog.String("address", cfg.Events.RedisAddress),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	if *preload {
		loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := engine.Load(loadCtx); err != nil {
			logger.Warn("Model preload failed, will retry on first use", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("websocket", fmt.Sprintf("ws://%s/ws", cfg.Server.Addr())),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	// stop accepting connections first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// closing sockets makes every live session finalize what it buffered
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping sessions", slog.String("error", err.Error()))
	}

	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("Error releasing transcription model", slog.String("error", err.Error()))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing Redis client", slog.String("error", err.Error()))
		}
	}

	stats := engine.Stats()
	logger.Info("Final engine statistics",
		slog.Uint64("calls", stats.Calls),
		slog.Uint64("failures", stats.Failures),
		slog.Uint64("silent_skips", stats.SilentSkips),
		slog.Uint64("load_attempts", stats.LoadAttempts),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
