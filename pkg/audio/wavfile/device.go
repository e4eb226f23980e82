package wavfile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// DefaultBlock is the replay block length.
const DefaultBlock = 10 * time.Millisecond

// Option configures a [Platform].
type Option func(*Platform)

// WithRealtime paces replay at the file's own rate. Without it blocks are
// delivered as fast as the handler accepts them.
func WithRealtime() Option {
	return func(p *Platform) { p.realtime = true }
}

// WithBlock sets the replay block length.
func WithBlock(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.block = d
		}
	}
}

// Platform replays WAV files as capture devices. A device's Name is the
// file path; an empty name falls back to the path registered for its role.
type Platform struct {
	files    map[audio.Role]string
	realtime bool
	block    time.Duration
}

// NewPlatform returns a Platform with files registered per role.
func NewPlatform(files map[audio.Role]string, opts ...Option) *Platform {
	p := &Platform{files: files, block: DefaultBlock}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open implements [audio.Platform]. The whole file is decoded up front.
func (p *Platform) Open(_ context.Context, cfg audio.DeviceConfig) (audio.Device, error) {
	path := cfg.Name
	if path == "" {
		path = p.files[cfg.Role]
	}
	if path == "" {
		return nil, fmt.Errorf("wavfile: no file for %s device", cfg.Role)
	}
	samples, format, err := Read(path)
	if err != nil {
		return nil, err
	}
	frames := int(p.block * time.Duration(format.SampleRate) / time.Second)
	if cfg.FramesPerBuffer > 0 {
		frames = cfg.FramesPerBuffer
	}
	return &Device{
		path:     path,
		format:   format,
		samples:  samples,
		frames:   max(1, frames),
		realtime: p.realtime,
		finished: make(chan struct{}),
	}, nil
}

// Device replays one decoded file.
type Device struct {
	path     string
	format   audio.Format
	samples  []float32
	frames   int
	realtime bool

	mu       sync.Mutex
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	finished chan struct{}
	doneOnce sync.Once
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Path returns the replayed file.
func (d *Device) Path() string { return d.path }

// Finished is closed once every block of the file was delivered.
func (d *Device) Finished() <-chan struct{} { return d.finished }

// Start implements [audio.Device]. Replay starts from the beginning of the
// file on a new goroutine.
func (d *Device) Start(handler func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("wavfile: device closed")
	}
	if d.stop != nil {
		return errors.New("wavfile: device already started")
	}
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run(handler, d.stop)
	return nil
}

func (d *Device) run(handler func(audio.Block), stop <-chan struct{}) {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.realtime {
		blockDur := time.Duration(d.frames) * time.Second / time.Duration(d.format.SampleRate)
		t := time.NewTicker(blockDur)
		defer t.Stop()
		tick = t.C
	}

	ch := d.format.Channels
	for off := 0; off < len(d.samples); off += d.frames * ch {
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}
		end := min(off+d.frames*ch, len(d.samples))
		handler(audio.Block{
			Samples:   d.samples[off:end],
			Format:    d.format,
			Timestamp: time.Duration(off/ch) * time.Second / time.Duration(d.format.SampleRate),
		})
	}
	d.doneOnce.Do(func() { close(d.finished) })
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
