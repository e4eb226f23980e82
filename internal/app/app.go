// Package app wires all recod subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the recording store,
// builds the recognizer fallback chain and the capture graph, Start serves
// the health and metrics endpoints and watches the config file, and
// Shutdown tears everything down.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithPermissions, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/recod/internal/config"
	"github.com/MrWong99/recod/internal/health"
	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/internal/recording/natspub"
	"github.com/MrWong99/recod/internal/recording/postgres"
	"github.com/MrWong99/recod/internal/recording/sqlite"
	"github.com/MrWong99/recod/internal/resilience"
	"github.com/MrWong99/recod/internal/streaming"
	"github.com/MrWong99/recod/internal/vadgate"
	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/audio/capture"
	"github.com/MrWong99/recod/pkg/audio/samplestream"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

// NamedRecognizer pairs a recognizer with its configured provider name.
type NamedRecognizer struct {
	Name       string
	Recognizer stt.Recognizer
}

// Providers holds the instantiated providers. Populated by main.go via the
// config registry. Recognizers lists the primary first; an empty list
// disables transcription.
type Providers struct {
	Recognizers []NamedRecognizer
	VAD         vad.Engine
	Audio       audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store       recording.Store
	metrics     *observe.Metrics
	perms       capture.Permissions
	levelVar    *slog.LevelVar
	configPath  string
	recognizer  *resilience.RecognizerFallback
	transcriber *Transcriber
	recorder    *Recorder

	server  *http.Server
	watcher *config.Watcher

	// closers are called in order during Shutdown, after the recorder and
	// the HTTP server have stopped.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a recording store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s recording.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPermissions sets the capture permission checker. Default:
// [capture.AllowAll].
func WithPermissions(p capture.Permissions) Option {
	return func(a *App) { a.perms = p }
}

// WithLevelVar lets hot reloads change the log level of the handler that
// was built with v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigPath makes Start watch path and apply hot-reloadable changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio platform is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		perms:     capture.AllowAll{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Recording store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Completion events ─────────────────────────────────────────────
	if err := a.initEvents(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 3. Recognizers ───────────────────────────────────────────────────
	a.initRecognizers()

	// ── 4. Capture + recorder ────────────────────────────────────────────
	if err := a.initRecorder(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		s, err := postgres.Connect(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
	default:
		s, err := sqlite.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("app: recording store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// initEvents wraps the store with a NATS publisher when configured.
func (a *App) initEvents() error {
	if a.cfg.Events.NATSURL == "" {
		return nil
	}
	nc, err := natspub.Connect(a.cfg.Events.NATSURL)
	if err != nil {
		return err
	}
	a.closers = append([]func() error{nc.Drain}, a.closers...)
	a.store = natspub.New(a.store, nc, a.cfg.Events.Subject)
	slog.Info("app: publishing completion events", "url", a.cfg.Events.NATSURL)
	return nil
}

// initRecognizers builds the fallback chain over the configured recognizers.
func (a *App) initRecognizers() {
	recs := a.providers.Recognizers
	if len(recs) == 0 {
		a.transcriber = NewTranscriber(nil, "", a.metrics)
		return
	}
	chainCfg := resilience.FallbackConfig{Breaker: resilience.BreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}
	a.recognizer = resilience.NewRecognizerFallback(recs[0].Recognizer, recs[0].Name, chainCfg)
	for _, r := range recs[1:] {
		a.recognizer.AddFallback(r.Name, r.Recognizer)
	}
	a.transcriber = NewTranscriber(a.recognizer, recs[0].Name, a.metrics)
}

// initRecorder builds the capture graph and the recorder.
func (a *App) initRecorder(ctx context.Context) error {
	dir := a.cfg.Audio.RecordingsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create recordings dir: %w", err)
	}

	graphOpts := []capture.Option{
		capture.WithPermissions(a.perms),
		capture.WithMicrophone(deviceConfig(audio.RoleMicrophone, a.cfg.Audio.Microphone)),
		capture.WithSystemDevice(deviceConfig(audio.RoleSystem, a.cfg.Audio.SystemDevice)),
	}
	if a.cfg.Audio.GracePeriod > 0 {
		graphOpts = append(graphOpts, capture.WithGracePeriod(a.cfg.Audio.GracePeriod))
	}
	graph := capture.New(a.providers.Audio, samplestream.New(stt.SampleRate), dir, graphOpts...)

	primary := ""
	var rec stt.Recognizer
	if a.recognizer != nil {
		primary = a.providers.Recognizers[0].Name
		rec = a.recognizer
	}
	strategy := streaming.Strategy(a.cfg.Streaming.Resolve(primary))

	a.recorder = NewRecorder(RecorderConfig{
		Graph:            graph,
		Store:            a.store,
		Recognizer:       rec,
		RecognizerName:   primary,
		Transcriber:      a.transcriber,
		VAD:              a.providers.VAD,
		Gate:             gateConfig(a.cfg.VAD),
		Strategy:         strategy,
		Language:         a.cfg.Recognizer.Language,
		Rules:            a.cfg.Replacements,
		StreamingOptions: streamingOptions(a.cfg.Streaming),
		Metrics:          a.metrics,
	})

	if a.cfg.Audio.Prewarm {
		if err := graph.Prewarm(ctx); err != nil {
			slog.Warn("app: prewarm failed", "err", err)
		}
	}
	slog.Info("app: recorder ready",
		"recordings_dir", dir,
		"recognizer", primary,
		"strategy", strategy,
		"rules", len(a.cfg.Replacements),
	)
	return nil
}

func deviceConfig(role audio.Role, e config.DeviceEntry) audio.DeviceConfig {
	return audio.DeviceConfig{
		Role:            role,
		Name:            e.Name,
		SampleRate:      e.SampleRate,
		Channels:        e.Channels,
		FramesPerBuffer: e.FramesPerBuffer,
	}
}

func gateConfig(v config.VADConfig) vadgate.Config {
	return vadgate.Config{
		SampleRate: stt.SampleRate,
		Window:     v.Window,
		Threshold:  v.Threshold,
		MinSpeech:  v.MinSpeech,
		MinSilence: v.MinSilence,
		MaxSpeech:  v.MaxSpeech,
	}
}

func streamingOptions(s config.StreamingConfig) []streaming.Option {
	opts := []streaming.Option{
		streaming.WithPollInterval(s.PollInterval),
		streaming.WithMinNewAudio(s.MinNewAudio),
	}
	if s.ConfirmationWindow != nil {
		opts = append(opts, streaming.WithConfirmationWindow(*s.ConfirmationWindow))
	}
	return opts
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Recorder returns the recorder.
func (a *App) Recorder() *Recorder { return a.recorder }

// Store returns the recording store.
func (a *App) Store() recording.Store { return a.store }

// Transcriber returns the file transcriber.
func (a *App) Transcriber() *Transcriber { return a.transcriber }

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler {
	checkers := []health.Checker{health.StoreChecker(a.store)}
	if a.recognizer != nil {
		checkers = append(checkers, health.RecognizerChecker(a.recognizer))
	}
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Start ───────────────────────────────────────────────────────────────────

// Start binds the HTTP listener (when configured) and starts the config
// watcher (when a config path was given). It returns once both are running.
func (a *App) Start(ctx context.Context) error {
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		a.server = &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("app: http server failed", "err", err)
			}
		}()
		slog.Info("app: serving health and metrics", "addr", ln.Addr().String())
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload,
			config.WithErrorHandler(func(error) {
				a.metrics.RecordConfigReload(context.Background(), observe.StatusError)
			}))
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}
	return nil
}

// Reload applies the hot-reloadable differences between old and new: the
// log level and the replacement rules.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		a.metrics.RecordConfigReload(context.Background(), observe.StatusOK)
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(LevelFor(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ReplacementsChanged {
		a.recorder.SetRules(d.NewReplacements)
		slog.Info("app: replacement rules reloaded", "rules", len(d.NewReplacements))
	}
	a.metrics.RecordConfigReload(context.Background(), observe.StatusOK)
}

// LevelFor maps a config log level to an slog level. Unknown levels map to
// info.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown finishes an active recording, then stops the HTTP server and the
// config watcher concurrently, and finally closes the store and event
// connection. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.recorder.Close(gctx) })
		if a.server != nil {
			g.Go(func() error { return a.server.Shutdown(gctx) })
		}
		if a.watcher != nil {
			g.Go(func() error {
				a.watcher.Stop()
				return nil
			})
		}
		shutdownErr = g.Wait()

		if err := a.closeAll(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() error {
	var errs []error
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
