// Package portaudio implements [audio.Platform] on top of PortAudio, giving
// the capture graph access to real microphones and, where the host exposes
// one, a system-audio loopback input.
//
// PortAudio has no notion of system audio. A [audio.RoleSystem] device
// without an explicit name is resolved to the first input whose name looks
// like a loopback ("monitor", "loopback", "stereo mix", "blackhole").
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/recod/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// loopbackHints are lowercase substrings of common loopback device names.
var loopbackHints = []string{"monitor", "loopback", "stereo mix", "blackhole", "what u hear"}

// Option configures a [Platform].
type Option func(*Platform)

// WithBitDepth sets the bit depth reported in device formats, which is the
// depth recordings are stored at. PortAudio always delivers float32.
// Default: 16.
func WithBitDepth(depth int) Option {
	return func(p *Platform) {
		if depth > 0 {
			p.bitDepth = depth
		}
	}
}

// Platform is a PortAudio backed [audio.Platform]. Create it with [New] and
// release it with [Platform.Close] after every device is closed.
type Platform struct {
	bitDepth  int
	closeOnce sync.Once
}

// New initialises PortAudio.
func New(opts ...Option) (*Platform, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	p := &Platform{bitDepth: 16}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close terminates PortAudio. It is safe to call more than once.
func (p *Platform) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if e := pa.Terminate(); e != nil {
			err = fmt.Errorf("portaudio: terminate: %w", e)
		}
	})
	return err
}

// InputDevices lists the names of all devices with input channels.
func (p *Platform) InputDevices() ([]string, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// Open implements [audio.Platform].
func (p *Platform) Open(_ context.Context, cfg audio.DeviceConfig) (audio.Device, error) {
	info, err := p.resolve(cfg)
	if err != nil {
		return nil, err
	}

	params := pa.LowLatencyParameters(info, nil)
	params.Input.Channels = channelsFor(cfg, info)
	if cfg.SampleRate > 0 {
		params.SampleRate = float64(cfg.SampleRate)
	}
	if cfg.FramesPerBuffer > 0 {
		params.FramesPerBuffer = cfg.FramesPerBuffer
	}

	d := &device{
		name: info.Name,
		format: audio.Format{
			SampleRate: int(params.SampleRate),
			Channels:   params.Input.Channels,
			BitDepth:   p.bitDepth,
		},
	}
	stream, err := pa.OpenStream(params, d.process)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q: %w", info.Name, err)
	}
	d.stream = stream
	return d, nil
}

func (p *Platform) resolve(cfg audio.DeviceConfig) (*pa.DeviceInfo, error) {
	if cfg.Name == "" && cfg.Role == audio.RoleMicrophone {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input: %w", err)
		}
		return info, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	return pickDevice(devices, cfg)
}

// pickDevice selects the input device matching cfg by case-insensitive name,
// or the first loopback-looking input for an unnamed system device.
func pickDevice(devices []*pa.DeviceInfo, cfg audio.DeviceConfig) (*pa.DeviceInfo, error) {
	want := strings.ToLower(cfg.Name)
	for _, d := range devices {
		if d == nil || d.MaxInputChannels == 0 {
			continue
		}
		name := strings.ToLower(d.Name)
		if want != "" {
			if name == want {
				return d, nil
			}
			continue
		}
		for _, hint := range loopbackHints {
			if strings.Contains(name, hint) {
				return d, nil
			}
		}
	}
	if want != "" {
		return nil, fmt.Errorf("portaudio: no input device named %q", cfg.Name)
	}
	return nil, errors.New("portaudio: no system audio loopback device found")
}

func channelsFor(cfg audio.DeviceConfig, info *pa.DeviceInfo) int {
	if cfg.Channels > 0 {
		return min(cfg.Channels, info.MaxInputChannels)
	}
	return min(2, info.MaxInputChannels)
}

// device is one PortAudio input stream.
type device struct {
	name   string
	format audio.Format
	stream *pa.Stream

	handler atomic.Pointer[func(audio.Block)]
	frames  atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
}

// process runs on the PortAudio callback thread.
func (d *device) process(in []float32) {
	h := d.handler.Load()
	if h == nil {
		return
	}
	n := d.frames.Add(int64(len(in) / d.format.Channels))
	start := n - int64(len(in)/d.format.Channels)
	(*h)(audio.Block{
		Samples:   in,
		Format:    d.format,
		Timestamp: time.Duration(start) * time.Second / time.Duration(d.format.SampleRate),
	})
}

func (d *device) Format() audio.Format { return d.format }

func (d *device) Start(handler func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("portaudio: start %q: device closed", d.name)
	}
	if d.started {
		return fmt.Errorf("portaudio: start %q: already started", d.name)
	}
	d.handler.Store(&handler)
	d.frames.Store(0)
	if err := d.stream.Start(); err != nil {
		d.handler.Store(nil)
		return fmt.Errorf("portaudio: start %q: %w", d.name, err)
	}
	d.started = true
	return nil
}

func (d *device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	// Pa_StopStream returns after the last callback completes.
	err := d.stream.Stop()
	d.handler.Store(nil)
	if err != nil {
		return fmt.Errorf("portaudio: stop %q: %w", d.name, err)
	}
	return nil
}

func (d *device) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close %q: %w", d.name, err)
	}
	return nil
}
