// Package capture builds the recording graph: microphone and optional
// system-audio devices summed by a mixer into one tap that writes a WAV file
// in the native device format and feeds a mono 16 kHz [samplestream.Stream]
// for live transcription.
//
// The graph has no playback path, so nothing captured is ever monitored on
// the output device. Devices are opened on Start and fully released on Stop;
// every Start builds the graph from scratch, so a changed system-audio flag
// always takes effect.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/audio/mixer"
	"github.com/MrWong99/recod/pkg/audio/samplestream"
)

var (
	// ErrPermissionDenied is returned by [Graph.Start] when microphone access
	// is not authorised.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrScreenCapturePermissionDenied is returned by [Graph.Start] when
	// system audio was requested but loopback capture is not authorised.
	ErrScreenCapturePermissionDenied = errors.New("capture: system audio permission denied")

	// ErrSetupFailed wraps any failure to open a device or create the sink.
	ErrSetupFailed = errors.New("capture: audio graph setup failed")

	// ErrRecording is returned by [Graph.Start] while a recording is active.
	ErrRecording = errors.New("capture: already recording")
)

// DefaultGracePeriod is how long Stop keeps the tap installed so the last
// device buffers reach the sink.
const DefaultGracePeriod = 100 * time.Millisecond

// Permissions reports whether the user allowed capture.
type Permissions interface {
	MicrophoneAuthorized(ctx context.Context) bool
	SystemAudioAuthorized(ctx context.Context) bool
}

// AllowAll grants every permission. Platforms without a permission model use
// it.
type AllowAll struct{}

func (AllowAll) MicrophoneAuthorized(context.Context) bool  { return true }
func (AllowAll) SystemAudioAuthorized(context.Context) bool { return true }

var _ Permissions = AllowAll{}

// Option configures a [Graph].
type Option func(*Graph)

// WithPermissions sets the permission checker. Default: [AllowAll].
func WithPermissions(p Permissions) Option {
	return func(g *Graph) { g.perms = p }
}

// WithGracePeriod sets the Stop grace period. Negative values are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(g *Graph) {
		if d >= 0 {
			g.grace = d
		}
	}
}

// WithMicrophone selects the microphone device.
func WithMicrophone(cfg audio.DeviceConfig) Option {
	return func(g *Graph) {
		cfg.Role = audio.RoleMicrophone
		g.micCfg = cfg
	}
}

// WithSystemDevice selects the system-audio loopback device.
func WithSystemDevice(cfg audio.DeviceConfig) Option {
	return func(g *Graph) {
		cfg.Role = audio.RoleSystem
		g.sysCfg = cfg
	}
}

// WithTags sets the gain and pan of the two branches. Default: both [audio.Unity].
func WithTags(mic, system audio.Tag) Option {
	return func(g *Graph) {
		g.micTag, g.sysTag = mic, system
	}
}

// WithMaxLag bounds how far the branches may drift apart in the mixer.
func WithMaxLag(d time.Duration) Option {
	return func(g *Graph) { g.maxLag = d }
}

// WithClock overrides the clock used to name recording files.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// Graph owns the capture devices of one recorder. All methods are safe for
// concurrent use.
type Graph struct {
	platform audio.Platform
	stream   *samplestream.Stream
	dir      string
	perms    Permissions
	grace    time.Duration
	micCfg   audio.DeviceConfig
	sysCfg   audio.DeviceConfig
	micTag   audio.Tag
	sysTag   audio.Tag
	maxLag   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	session *session // nil when not recording

	level atomic.Uint32 // float32 bits
}

// session is one built graph from Start to Stop.
type session struct {
	systemAudio bool
	devices     []audio.Device // microphone first
	mix         *mixer.Mixer
	sink        *Sink
}

// New returns a Graph that opens devices from platform, appends recognizer
// audio to stream and writes WAV files into dir.
func New(platform audio.Platform, stream *samplestream.Stream, dir string, opts ...Option) *Graph {
	g := &Graph{
		platform: platform,
		stream:   stream,
		dir:      dir,
		perms:    AllowAll{},
		grace:    DefaultGracePeriod,
		micCfg:   audio.DeviceConfig{Role: audio.RoleMicrophone},
		sysCfg:   audio.DeviceConfig{Role: audio.RoleSystem},
		micTag:   audio.Unity,
		sysTag:   audio.Unity,
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Stream returns the recognizer stream the graph appends to.
func (g *Graph) Stream() *samplestream.Stream { return g.stream }

// Start checks permissions, builds the graph, opens a new WAV sink and
// starts the devices. On error the graph is left not recording and no
// device is held.
func (g *Graph) Start(ctx context.Context, systemAudio bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session != nil {
		return ErrRecording
	}
	if !g.perms.MicrophoneAuthorized(ctx) {
		return ErrPermissionDenied
	}
	if systemAudio && !g.perms.SystemAudioAuthorized(ctx) {
		return ErrScreenCapturePermissionDenied
	}

	s, err := g.build(ctx, systemAudio)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	conv := &audio.FormatConverter{Target: audio.RecognizerFormat}
	var sinkErr sync.Once
	s.mix.SetTap(func(b audio.Block) {
		if err := s.sink.Write(b); err != nil {
			sinkErr.Do(func() {
				slog.Error("capture: sink write failed", "path", s.sink.Path(), "err", err)
			})
		}
		g.level.Store(math.Float32bits(audio.NormalizeLevel(audio.LevelDB(b.Samples))))
		g.stream.Append(conv.Convert(b).Samples)
	})

	for i, dev := range s.devices {
		if err := dev.Start(s.branchPush(i)); err != nil {
			g.release(s)
			_ = os.Remove(s.sink.Path())
			return fmt.Errorf("%w: start device: %w", ErrSetupFailed, err)
		}
	}

	g.session = s
	slog.Info("capture: recording started",
		"path", s.sink.Path(),
		"format", s.sink.Format().String(),
		"system_audio", systemAudio,
	)
	return nil
}

// build opens the devices, the mixer and the sink.
func (g *Graph) build(ctx context.Context, systemAudio bool) (*session, error) {
	s := &session{systemAudio: systemAudio}

	mic, err := g.platform.Open(ctx, g.micCfg)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	s.devices = append(s.devices, mic)

	if systemAudio {
		sys, err := g.platform.Open(ctx, g.sysCfg)
		if err != nil {
			g.release(s)
			return nil, fmt.Errorf("open system audio: %w", err)
		}
		s.devices = append(s.devices, sys)
	}

	// The sink stores the microphone's native format; other branches are
	// converted to it.
	format := mic.Format()
	s.mix = mixer.New(format, mixer.WithMaxLag(g.maxLag))
	s.mix.AddBranch(audio.RoleMicrophone.String(), g.micTag)
	if systemAudio {
		s.mix.AddBranch(audio.RoleSystem.String(), g.sysTag)
	}

	sink, err := NewSink(filepath.Join(g.dir, Filename(g.now())), format)
	if err != nil {
		g.release(s)
		return nil, err
	}
	s.sink = sink
	return s, nil
}

func (s *session) branchPush(i int) func(audio.Block) {
	return s.mix.Branches()[i].Push
}

// Stop waits for the grace period, detaches the tap, closes the sink and
// releases every device. It returns the path of the finished WAV file, or
// ("", false) when not recording.
func (g *Graph) Stop(ctx context.Context) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if s == nil {
		return "", false
	}

	if g.grace > 0 {
		t := time.NewTimer(g.grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	s.mix.Flush()
	s.mix.SetTap(nil)

	if s.systemAudio {
		if err := s.devices[1].Stop(); err != nil {
			slog.Warn("capture: failed to stop system audio device", "err", err)
		}
	}
	path := s.sink.Path()
	if err := s.sink.Close(); err != nil {
		slog.Error("capture: failed to finalise recording", "path", path, "err", err)
	}
	g.release(s)

	g.session = nil
	g.level.Store(0)
	slog.Info("capture: recording stopped", "path", path)
	return path, true
}

// release stops and closes every device of s, and closes the sink if one
// was opened.
func (g *Graph) release(s *session) {
	for _, dev := range s.devices {
		if err := dev.Stop(); err != nil {
			slog.Warn("capture: failed to stop device", "err", err)
		}
		if err := dev.Close(); err != nil {
			slog.Warn("capture: failed to close device", "err", err)
		}
	}
	if s.mix != nil {
		s.mix.SetTap(nil)
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}
}

// Prewarm opens and immediately closes the microphone so the first real
// Start does not pay the device start-up cost. No device is held afterwards.
// It is a no-op while recording.
func (g *Graph) Prewarm(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		return nil
	}
	dev, err := g.platform.Open(ctx, g.micCfg)
	if err != nil {
		return fmt.Errorf("%w: prewarm: %w", ErrSetupFailed, err)
	}
	// Opening alone does not acquire the hardware on every backend; a start
	// and stop with a discarding handler does.
	if err := dev.Start(func(audio.Block) {}); err != nil {
		_ = dev.Close()
		return fmt.Errorf("%w: prewarm start: %w", ErrSetupFailed, err)
	}
	if err := dev.Stop(); err != nil {
		slog.Warn("capture: prewarm stop failed", "err", err)
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("capture: prewarm close: %w", err)
	}
	slog.Debug("capture: prewarmed microphone", "format", dev.Format().String())
	return nil
}

// Recording reports whether a capture is active.
func (g *Graph) Recording() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil
}

// Path returns the WAV file being written, or "" when not recording.
func (g *Graph) Path() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return ""
	}
	return g.session.sink.Path()
}

// Level returns the normalised input level of the most recent block, in
// [0, 1]. It is 0 while not recording.
func (g *Graph) Level() float32 {
	return math.Float32frombits(g.level.Load())
}
