// Command recod is a push-to-record dictation recorder with live
// transcription.
//
// Usage:
//
//	recod [-config path] [-input FILE.wav] [record]
//	recod [-config path] transcribe FILE.wav...
//	recod [-config path] sync
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/recod/internal/app"
	"github.com/MrWong99/recod/internal/config"
	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/internal/tui"
	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/audio/portaudio"
	"github.com/MrWong99/recod/pkg/audio/wavfile"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/stt/deepgram"
	"github.com/MrWong99/recod/pkg/provider/stt/whisper"
	"github.com/MrWong99/recod/pkg/provider/vad"
	"github.com/MrWong99/recod/pkg/provider/vad/energy"
)

// version is stamped by the release build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (default: built-in defaults)")
	inputPath := flag.String("input", "", "replay FILE.wav as the microphone instead of a capture device")
	headless := flag.Bool("headless", false, "record without the TUI and print the transcript")
	duration := flag.Duration("duration", 0, "with -headless, stop after this long (0: until interrupted)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("recod", version)
		return 0
	}

	command := "record"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "recod: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "recod: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("recod starting",
		"command", command,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "recod",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		TraceFile:      cfg.Telemetry.TraceFile,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, *inputPath)

	if command != "record" {
		// Only recording needs capture devices.
		cfg.Audio.Platform = config.ProviderEntry{Name: "wavfile"}
		cfg.Audio.Prewarm = false
	} else if *inputPath != "" {
		cfg.Audio.Platform.Name = "wavfile"
	}

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders(providers)

	var opts []app.Option
	opts = append(opts, app.WithLevelVar(levelVar))
	if *configPath != "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	switch command {
	case "record":
		if err := application.Start(ctx); err != nil {
			slog.Error("failed to start", "err", err)
			return 1
		}
		if *headless {
			return recordHeadless(ctx, application, cfg.Audio.SystemAudio, *duration)
		}
		if err := tui.Run(ctx, application.Recorder(), cfg.Audio.SystemAudio); err != nil {
			slog.Error("tui error", "err", err)
			return 1
		}
		return 0

	case "transcribe":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "recod: transcribe needs at least one WAV file")
			return 2
		}
		return transcribeFiles(ctx, application, cfg.Recognizer.Language, args)

	case "sync":
		n, err := recording.Sync(ctx, cfg.Audio.RecordingsDir, application.Store())
		if err != nil {
			slog.Error("sync failed", "err", err)
			return 1
		}
		fmt.Printf("registered %d recording(s) from %s\n", n, cfg.Audio.RecordingsDir)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "recod: unknown command %q\n", command)
		usage()
		return 2
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "usage: recod [flags] [record | transcribe FILE.wav... | sync]")
	flag.PrintDefaults()
}

// recordHeadless records once, until d elapses or ctx is cancelled, and
// prints the final transcript.
func recordHeadless(ctx context.Context, application *app.App, systemAudio bool, d time.Duration) int {
	rec := application.Recorder()
	if err := rec.StartRecording(ctx, systemAudio); err != nil {
		slog.Error("failed to start recording", "err", err)
		return 1
	}
	slog.Info("recording, press Ctrl+C to stop")

	wait := ctx
	if d > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	<-wait.Done()

	// The signal context is done by now; the finish pipeline gets its own.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	path, _ := rec.StopRecording(fctx)
	res := rec.Last()
	if res == nil {
		return 1
	}
	fmt.Fprintf(os.Stderr, "%s (%s, %s)\n", path, res.Duration.Round(time.Millisecond), res.Status)
	if res.Status == recording.StatusFailed {
		fmt.Fprintf(os.Stderr, "recod: transcription failed: %s\n", res.Err)
		return 1
	}
	fmt.Println(res.Text)
	return 0
}

func transcribeFiles(ctx context.Context, application *app.App, language string, paths []string) int {
	opts := stt.Options{Language: language}
	if language == "" || language == "auto" {
		opts = stt.Options{DetectLanguage: true}
	}
	status := 0
	for _, path := range paths {
		res, err := application.Transcriber().TranscribeFile(ctx, path, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recod: %s: %v\n", path, err)
			status = 1
			continue
		}
		text := application.Recorder().ApplyReplacements(res.Text)
		if len(paths) > 1 {
			fmt.Printf("%s: %s\n", path, text)
		} else {
			fmt.Println(text)
		}
	}
	return status
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// inputPath, when set, is replayed as the wavfile microphone.
func registerBuiltinProviders(reg *config.Registry, inputPath string) {
	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := optFloat(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		floor, ceiling := optFloat(entry.Options, "floor_db"), optFloat(entry.Options, "ceiling_db")
		if floor != 0 || ceiling != 0 {
			opts = append(opts, energy.WithRange(floor, ceiling))
		}
		if alpha := optFloat(entry.Options, "smoothing"); alpha > 0 {
			opts = append(opts, energy.WithSmoothing(alpha))
		}
		return energy.New(opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Platform, error) {
		var opts []portaudio.Option
		if depth := optFloat(entry.Options, "bit_depth"); depth > 0 {
			opts = append(opts, portaudio.WithBitDepth(int(depth)))
		}
		p, err := portaudio.New(opts...)
		if err != nil {
			return nil, err
		}
		if names, err := p.InputDevices(); err == nil {
			slog.Debug("input devices", "devices", names)
		}
		return p, nil
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry) (audio.Platform, error) {
		files := map[audio.Role]string{
			audio.RoleMicrophone: optString(entry.Options, "microphone"),
			audio.RoleSystem:     optString(entry.Options, "system"),
		}
		var opts []wavfile.Option
		if inputPath != "" {
			files[audio.RoleMicrophone] = inputPath
			opts = append(opts, wavfile.WithRealtime())
		} else if optBool(entry.Options, "realtime") {
			opts = append(opts, wavfile.WithRealtime())
		}
		return wavfile.NewPlatform(files, opts...), nil
	})

	for _, name := range reg.Recognizers() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	entries := cfg.Recognizer.Fallbacks
	if cfg.Recognizer.Primary.Name != "" {
		entries = append([]config.ProviderEntry{cfg.Recognizer.Primary}, entries...)
	}
	for i, entry := range entries {
		rec, err := reg.CreateRecognizer(entry)
		if err != nil {
			if i > 0 {
				// A broken fallback must not keep the primary from working.
				slog.Warn("skipping fallback recognizer", "name", entry.Name, "err", err)
				continue
			}
			closeProviders(ps)
			return nil, fmt.Errorf("create recognizer %q: %w", entry.Name, err)
		}
		ps.Recognizers = append(ps.Recognizers, app.NamedRecognizer{Name: entry.Name, Recognizer: rec})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	if name := cfg.VAD.Name; name != "" {
		engine, err := reg.CreateVAD(cfg.VAD.Entry())
		if err != nil {
			closeProviders(ps)
			return nil, fmt.Errorf("create vad %q: %w", name, err)
		}
		ps.VAD = engine
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	platform, err := reg.CreateAudio(cfg.Audio.Platform)
	if err != nil {
		closeProviders(ps)
		return nil, fmt.Errorf("create audio platform %q: %w", cfg.Audio.Platform.Name, err)
	}
	ps.Audio = platform
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Platform.Name)

	return ps, nil
}

// closeProviders releases providers that hold native resources (the
// whisper.cpp model, the PortAudio library).
func closeProviders(ps *app.Providers) {
	var closers []any
	for _, r := range ps.Recognizers {
		closers = append(closers, r.Recognizer)
	}
	closers = append(closers, ps.VAD, ps.Audio)
	for _, v := range closers {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes
// integers as int and decimals as float64; both are accepted.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// optBool extracts a boolean from a provider Options map.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
