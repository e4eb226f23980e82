// Package config provides the configuration schema, loader, and provider registry
// for the recod dictation recorder.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/recod/internal/transcript"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Strategy selects how recordings are transcribed while they are captured.
type Strategy string

const (
	// StrategyAuto picks the strategy preferred by the primary recognizer.
	StrategyAuto Strategy = "auto"

	// StrategySegmented decodes each voice-gated utterance once.
	StrategySegmented Strategy = "segmented"

	// StrategySliding re-decodes the unconfirmed tail on every poll.
	StrategySliding Strategy = "sliding"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAuto, StrategySegmented, StrategySliding:
		return true
	}
	return false
}

// PreferredStrategy returns the strategy that suits the named recognizer.
// Full-context decoders behind an HTTP server revise their output as audio
// grows and prefer sliding; batch decoders prefer segmented.
func PreferredStrategy(recognizer string) Strategy {
	if recognizer == "whisper" {
		return StrategySliding
	}
	return StrategySegmented
}

// StoreDriver selects the recording store backend.
type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	return d == StoreSQLite || d == StorePostgres
}

// Config is the root configuration structure for recod.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Audio        AudioConfig       `yaml:"audio"`
	Recognizer   RecognizerConfig  `yaml:"recognizer"`
	Streaming    StreamingConfig   `yaml:"streaming"`
	VAD          VADConfig         `yaml:"vad"`
	Replacements []transcript.Rule `yaml:"replacements"`
	Store        StoreConfig       `yaml:"store"`
	Events       EventsConfig      `yaml:"events"`
	Telemetry    TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., "127.0.0.1:9464"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig configures capture.
type AudioConfig struct {
	// Platform selects the capture backend ("portaudio" or "wavfile").
	Platform ProviderEntry `yaml:"platform"`

	// RecordingsDir is where WAV files are written.
	RecordingsDir string `yaml:"recordings_dir"`

	// SystemAudio mixes the system loopback into new recordings.
	SystemAudio bool `yaml:"system_audio"`

	Microphone   DeviceEntry `yaml:"microphone"`
	SystemDevice DeviceEntry `yaml:"system_device"`

	// GracePeriod is how long Stop lets buffered blocks drain.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Prewarm opens and closes the devices at startup so the first recording
	// starts without the driver's warm-up delay.
	Prewarm bool `yaml:"prewarm"`
}

// DeviceEntry selects a capture device. Zero values keep the device defaults.
type DeviceEntry struct {
	Name            string `yaml:"name"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// ProviderEntry is the common configuration shape for a named provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "whisper-native").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model name or a local model path.
	Model string `yaml:"model"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// RecognizerConfig configures the speech recognizers. Fallbacks are tried in
// order when the primary fails or its circuit breaker is open.
type RecognizerConfig struct {
	Primary   ProviderEntry   `yaml:"primary"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is a BCP-47 code passed on every request. Empty or "auto"
	// asks the recognizer to detect it.
	Language string `yaml:"language"`
}

// StreamingConfig configures live transcription.
type StreamingConfig struct {
	Strategy Strategy `yaml:"strategy"`

	// PollInterval is how often the coordinator reads new audio.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MinNewAudio is the unconfirmed audio a sliding decode waits for.
	MinNewAudio time.Duration `yaml:"min_new_audio"`

	// ConfirmationWindow is how many trailing segments sliding keeps pending.
	ConfirmationWindow *int `yaml:"confirmation_window"`
}

// Resolve returns the effective strategy for the given primary recognizer.
func (s StreamingConfig) Resolve(recognizer string) Strategy {
	if s.Strategy == "" || s.Strategy == StrategyAuto {
		return PreferredStrategy(recognizer)
	}
	return s.Strategy
}

// VADConfig configures the voice activity gate of the segmented strategy.
type VADConfig struct {
	// Name selects the classifier ("energy").
	Name string `yaml:"name"`

	Threshold  float64       `yaml:"threshold"`
	MinSpeech  time.Duration `yaml:"min_speech"`
	MinSilence time.Duration `yaml:"min_silence"`
	MaxSpeech  time.Duration `yaml:"max_speech"`

	// Window is the classifier window in samples.
	Window int `yaml:"window"`

	Options map[string]any `yaml:"options"`
}

// Entry returns the classifier as a [ProviderEntry] for the [Registry].
func (v VADConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: v.Name, Options: v.Options}
}

// StoreConfig selects where recordings are persisted.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	// Empty selects recod.db inside the recordings directory.
	DSN string `yaml:"dsn"`
}

// EventsConfig configures completion events. Empty NATSURL disables them.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// TelemetryConfig selects where spans go. With neither an OTLP endpoint nor
// a trace file, spans are still created (for log correlation) but dropped.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// TraceFile receives one JSON span per line. Spans never go to the
	// terminal because the TUI owns it.
	TraceFile string `yaml:"trace_file"`

	// SampleRatio is the fraction of root traces kept. Zero keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Platform.Name == "" {
		cfg.Audio.Platform.Name = "portaudio"
	}
	if cfg.Audio.RecordingsDir == "" {
		cfg.Audio.RecordingsDir = DefaultRecordingsDir()
	}
	if cfg.Streaming.Strategy == "" {
		cfg.Streaming.Strategy = StrategyAuto
	}
	if cfg.VAD.Name == "" {
		cfg.VAD.Name = "energy"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.Driver == StoreSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(cfg.Audio.RecordingsDir, "recod.db")
	}
}

// DefaultRecordingsDir returns ~/recod/recordings, or a relative
// "recordings" directory when the home directory is unknown.
func DefaultRecordingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	return filepath.Join(home, "recod", "recordings")
}
