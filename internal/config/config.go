package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Transcoder    TranscoderConfig    `yaml:"transcoder" json:"transcoder"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	VAD           VADConfig           `yaml:"vad" json:"vad"`
	Events        EventsConfig        `yaml:"events" json:"events"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// ServerConfig contains the WebSocket and monitoring HTTP listener settings
type ServerConfig struct {
	Address         string `yaml:"address" json:"address" env:"SERVER_ADDRESS"`
	Port            int    `yaml:"port" json:"port" env:"PORT"`
	ReadLimit       int64  `yaml:"read_limit" json:"read_limit"`             // max bytes per inbound frame
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`       // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"` // seconds
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`         // seconds of silence before finalizing; -1 disables
	ReadBufferSize  int    `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size" json:"write_buffer_size"`
}

// StorageConfig contains output directories
type StorageConfig struct {
	AudioDir      string `yaml:"audio_dir" json:"audio_dir" env:"AUDIO_DIR"`
	TranscriptDir string `yaml:"transcript_dir" json:"transcript_dir" env:"TRANSCRIPT_DIR"`
	KeepSidecar   bool   `yaml:"keep_sidecar" json:"keep_sidecar" env:"KEEP_SIDECAR"`
}

// TranscoderConfig contains ffmpeg settings
type TranscoderConfig struct {
	FFmpegPath   string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FFMPEG_PATH"`
	InputFormat  string `yaml:"input_format" json:"input_format"` // container of the live chunks; empty lets ffmpeg probe
	SampleRate   int    `yaml:"sample_rate" json:"sample_rate"`
	Channels     int    `yaml:"channels" json:"channels"`
	Timeout      int    `yaml:"timeout" json:"timeout"` // seconds
	VerifyOutput bool   `yaml:"verify_output" json:"verify_output"`
}

// ModeConfig is one device/precision combination the engine may load
type ModeConfig struct {
	Device      string `yaml:"device" json:"device"`
	ComputeType string `yaml:"compute_type" json:"compute_type"`
}

// TranscriptionConfig contains engine and backend settings
type TranscriptionConfig struct {
	Backend     string            `yaml:"backend" json:"backend" env:"TRANSCRIPTION_BACKEND"`
	Modes       []ModeConfig      `yaml:"modes" json:"modes"`
	Language    string            `yaml:"language" json:"language" env:"TRANSCRIPTION_LANGUAGE"`
	Task        string            `yaml:"task" json:"task"`
	BeamSize    int               `yaml:"beam_size" json:"beam_size"`
	VADFilter   bool              `yaml:"vad_filter" json:"vad_filter"`
	Formats     []string          `yaml:"formats" json:"formats" env:"TRANSCRIPT_FORMATS" envSeparator:","`
	Worker      WorkerConfig      `yaml:"worker" json:"worker"`
	HTTP        HTTPBackendConfig `yaml:"http" json:"http"`
	CloudSpeech CloudSpeechConfig `yaml:"cloud_speech" json:"cloud_speech"`
}

// WorkerConfig contains settings for the faster-whisper helper process
type WorkerConfig struct {
	Python       string `yaml:"python" json:"python" env:"WHISPER_PYTHON"`
	Script       string `yaml:"script" json:"script"`
	ModelSize    string `yaml:"model_size" json:"model_size" env:"WHISPER_MODEL"`
	StartTimeout int    `yaml:"start_timeout" json:"start_timeout"` // seconds
}

// HTTPBackendConfig contains settings for a whisper-compatible HTTP server
type HTTPBackendConfig struct {
	Endpoint       string `yaml:"endpoint" json:"endpoint" env:"TRANSCRIPTION_ENDPOINT"`
	APIKey         string `yaml:"api_key" json:"api_key" env:"TRANSCRIPTION_API_KEY"`
	Model          string `yaml:"model" json:"model"`
	Timeout        int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

// CloudSpeechConfig contains Google Cloud Speech-to-Text settings
type CloudSpeechConfig struct {
	ProjectID       string `yaml:"project_id" json:"project_id" env:"GOOGLE_CLOUD_PROJECT_ID"`
	CredentialsJSON string `yaml:"credentials_json" json:"credentials_json" env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	Location        string `yaml:"location" json:"location" env:"GOOGLE_CLOUD_SPEECH_LOCATION"`
	Language        string `yaml:"language" json:"language"`
}

// VADConfig contains the energy gate used to skip silent recordings
type VADConfig struct {
	Threshold         float32 `yaml:"threshold" json:"threshold"`
	WindowSize        int     `yaml:"window_size" json:"window_size"`                 // samples
	MinSpeechDuration float64 `yaml:"min_speech_duration" json:"min_speech_duration"` // seconds
}

// EventsConfig contains the Redis transcript publisher settings
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" env:"EVENTS_ENABLED"`
	RedisAddress  string `yaml:"redis_address" json:"redis_address" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" env:"REDIS_DB"`
	Channel       string `yaml:"channel" json:"channel" env:"REDIS_CHANNEL"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" json:"output" env:"LOG_OUTPUT"`
}

var validBackends = map[string]bool{"worker": true, "http": true, "cloudspeech": true}

var validFormats = map[string]bool{"txt": true, "json": true, "srt": true, "vtt": true}

// LoadDotEnv loads variables from .env files into the process environment.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file, applies defaults and
// environment overrides, then validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyDefaults()

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills optional fields left empty in the file
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = 16 << 20
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 600
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = 4096
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = 4096
	}

	if c.Storage.AudioDir == "" {
		c.Storage.AudioDir = "./audio_files"
	}
	if c.Storage.TranscriptDir == "" {
		c.Storage.TranscriptDir = "./transcripts"
	}

	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.SampleRate == 0 {
		c.Transcoder.SampleRate = 16000
	}
	if c.Transcoder.Channels == 0 {
		c.Transcoder.Channels = 1
	}
	if c.Transcoder.Timeout == 0 {
		c.Transcoder.Timeout = 300
	}

	t := &c.Transcription
	if t.Backend == "" {
		t.Backend = "worker"
	}
	if len(t.Modes) == 0 {
		if t.Backend == "cloudspeech" {
			t.Modes = []ModeConfig{{Device: "chirp_3"}, {Device: "long"}}
		} else {
			t.Modes = []ModeConfig{
				{Device: "cuda", ComputeType: "float16"},
				{Device: "cpu", ComputeType: "int8"},
			}
		}
	}
	if t.Task == "" {
		t.Task = "transcribe"
	}
	if t.BeamSize == 0 {
		t.BeamSize = 5
	}
	if len(t.Formats) == 0 {
		t.Formats = []string{"txt", "json"}
	}
	if t.Worker.Python == "" {
		t.Worker.Python = "python3"
	}
	if t.Worker.ModelSize == "" {
		t.Worker.ModelSize = "base"
	}
	if t.Worker.StartTimeout == 0 {
		t.Worker.StartTimeout = 120
	}
	if t.HTTP.Model == "" {
		t.HTTP.Model = "whisper-1"
	}
	if t.HTTP.Timeout == 0 {
		t.HTTP.Timeout = 120
	}
	if t.HTTP.RetryBackoffMS == 0 {
		t.HTTP.RetryBackoffMS = 500
	}
	if t.CloudSpeech.Location == "" {
		t.CloudSpeech.Location = "global"
	}

	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.01
	}
	if c.VAD.WindowSize == 0 {
		c.VAD.WindowSize = 512
	}
	if c.VAD.MinSpeechDuration == 0 {
		c.VAD.MinSpeechDuration = 0.25
	}

	if c.Events.RedisAddress == "" {
		c.Events.RedisAddress = "localhost:6379"
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "channel:text_output"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.IdleTimeout < -1 {
		return fmt.Errorf("idle_timeout must be -1 (disabled) or positive, got %d", s.IdleTimeout)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.AudioDir == "" {
		return fmt.Errorf("audio_dir cannot be empty")
	}

	if s.TranscriptDir == "" {
		return fmt.Errorf("transcript_dir cannot be empty")
	}

	return nil
}

// Validate validates transcoder configuration
func (t *TranscoderConfig) Validate() error {
	if t.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if t.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the transcription engine, got %d", t.SampleRate)
	}

	if t.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", t.Channels)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if !validBackends[t.Backend] {
		return fmt.Errorf("backend must be one of [worker, http, cloudspeech], got '%s'", t.Backend)
	}

	if len(t.Modes) == 0 {
		return fmt.Errorf("at least one mode is required")
	}
	for i, m := range t.Modes {
		if m.Device == "" {
			return fmt.Errorf("modes[%d].device cannot be empty", i)
		}
	}

	if t.Task != "transcribe" && t.Task != "translate" {
		return fmt.Errorf("task must be 'transcribe' or 'translate', got '%s'", t.Task)
	}

	if t.BeamSize < 1 {
		return fmt.Errorf("beam_size must be at least 1, got %d", t.BeamSize)
	}

	if len(t.Formats) == 0 {
		return fmt.Errorf("at least one transcript format is required")
	}
	for _, f := range t.Formats {
		if !validFormats[strings.ToLower(f)] {
			return fmt.Errorf("format must be one of [txt, json, srt, vtt], got '%s'", f)
		}
	}

	switch t.Backend {
	case "worker":
		if t.Worker.Python == "" {
			return fmt.Errorf("worker.python cannot be empty")
		}
		if t.Worker.StartTimeout < 1 {
			return fmt.Errorf("worker.start_timeout must be at least 1 second, got %d", t.Worker.StartTimeout)
		}
	case "http":
		if t.HTTP.Endpoint == "" {
			return fmt.Errorf("http.endpoint cannot be empty")
		}
		if t.HTTP.Timeout < 1 {
			return fmt.Errorf("http.timeout must be at least 1 second, got %d", t.HTTP.Timeout)
		}
		if t.HTTP.MaxRetries < 0 {
			return fmt.Errorf("http.max_retries cannot be negative, got %d", t.HTTP.MaxRetries)
		}
	case "cloudspeech":
		if t.CloudSpeech.ProjectID == "" {
			return fmt.Errorf("cloud_speech.project_id cannot be empty")
		}
		if t.Task == "translate" {
			return fmt.Errorf("task 'translate' is not supported by the cloudspeech backend")
		}
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	return nil
}

// Validate validates events configuration
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}

	if e.RedisAddress == "" {
		return fmt.Errorf("redis_address cannot be empty when events are enabled")
	}

	if e.Channel == "" {
		return fmt.Errorf("channel cannot be empty when events are enabled")
	}

	if e.RedisDB < 0 {
		return fmt.Errorf("redis_db cannot be negative, got %d", e.RedisDB)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Sanitized returns a copy with secrets masked, safe to expose over HTTP
func (c *Config) Sanitized() Config {
	out := *c
	out.Transcription.Modes = append([]ModeConfig(nil), c.Transcription.Modes...)
	out.Transcription.Formats = append([]string(nil), c.Transcription.Formats...)
	out.Transcription.HTTP.APIKey = mask(c.Transcription.HTTP.APIKey)
	out.Transcription.CloudSpeech.CredentialsJSON = mask(c.Transcription.CloudSpeech.CredentialsJSON)
	out.Events.RedisPassword = mask(c.Events.RedisPassword)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Addr returns the listen address in host:port form
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// GetWriteTimeoutDuration returns the per-frame write deadline
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetShutdownTimeoutDuration returns the time allowed for sessions to finalize on shutdown
func (s *ServerConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetIdleTimeoutDuration returns how long a connection may stay silent
func (s *ServerConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the ffmpeg process timeout
func (t *TranscoderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetStartTimeoutDuration returns the time allowed for the worker to load a model
func (w *WorkerConfig) GetStartTimeoutDuration() time.Duration {
	return time.Duration(w.StartTimeout) * time.Second
}

// GetTimeoutDuration returns the HTTP backend request timeout
func (h *HTTPBackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// GetRetryBackoffDuration returns the first retry delay
func (h *HTTPBackendConfig) GetRetryBackoffDuration() time.Duration {
	return time.Duration(h.RetryBackoffMS) * time.Millisecond
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}
