package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/recod/internal/transcript"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"deepgram", "whisper", "whisper-native"},
	"vad":   {"energy"},
	"audio": {"portaudio", "wavfile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Platform.Name)
	if cfg.Audio.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("audio.grace_period %s must not be negative", cfg.Audio.GracePeriod))
	}
	for name, dev := range map[string]DeviceEntry{"microphone": cfg.Audio.Microphone, "system_device": cfg.Audio.SystemDevice} {
		if dev.SampleRate < 0 || dev.Channels < 0 || dev.FramesPerBuffer < 0 {
			errs = append(errs, fmt.Errorf("audio.%s: sample_rate, channels and frames_per_buffer must not be negative", name))
		}
	}

	// Recognizers
	validateProviderName("stt", cfg.Recognizer.Primary.Name)
	if cfg.Recognizer.Primary.Name == "" {
		if len(cfg.Recognizer.Fallbacks) > 0 {
			errs = append(errs, errors.New("recognizer.fallbacks requires recognizer.primary.name"))
		} else {
			slog.Warn("config: no recognizer configured; recordings will be saved without transcripts")
		}
	}
	for i, fb := range cfg.Recognizer.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("recognizer.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Streaming
	s := cfg.Streaming
	if s.Strategy != "" && !s.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("streaming.strategy %q is invalid; valid values: auto, segmented, sliding", s.Strategy))
	}
	if s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("streaming.poll_interval %s must not be negative", s.PollInterval))
	}
	if s.MinNewAudio < 0 {
		errs = append(errs, fmt.Errorf("streaming.min_new_audio %s must not be negative", s.MinNewAudio))
	}
	if s.ConfirmationWindow != nil && *s.ConfirmationWindow < 0 {
		errs = append(errs, fmt.Errorf("streaming.confirmation_window %d must not be negative", *s.ConfirmationWindow))
	}

	// VAD
	validateProviderName("vad", cfg.VAD.Name)
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSpeech < 0 || cfg.VAD.MinSilence < 0 || cfg.VAD.MaxSpeech < 0 {
		errs = append(errs, errors.New("vad: min_speech, min_silence and max_speech must not be negative"))
	}
	if cfg.VAD.Window < 0 {
		errs = append(errs, fmt.Errorf("vad.window %d must not be negative", cfg.VAD.Window))
	}

	// Replacements
	if err := transcript.ValidateRules(cfg.Replacements); err != nil {
		errs = append(errs, fmt.Errorf("replacements: %w", err))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.driver is postgres"))
	}

	// Events
	if cfg.Events.Subject != "" && cfg.Events.NATSURL == "" {
		slog.Warn("config: events.subject is set but events.nats_url is empty; completion events are disabled")
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}
	if cfg.Telemetry.OTLPEndpoint != "" && cfg.Telemetry.TraceFile != "" {
		errs = append(errs, errors.New("telemetry: otlp_endpoint and trace_file are mutually exclusive"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
