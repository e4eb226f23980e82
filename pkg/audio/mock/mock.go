// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Device] interfaces, and of the capture permission checker, for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Device{DeviceFormat: audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16}}
//	platform := &mock.Platform{Devices: map[audio.Role]*mock.Device{audio.RoleMicrophone: mic}}
//	graph := capture.New(platform, stream, t.TempDir())
//	_ = graph.Start(ctx, false)
//	mic.Emit(audio.Block{Samples: pcm, Format: mic.DeviceFormat})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/recod/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Blocks are delivered
// synchronously on the caller's goroutine by [Device.Emit].
type Device struct {
	mu sync.Mutex

	// DeviceFormat is returned by [Device.Format].
	DeviceFormat audio.Format

	// StartErr is returned by [Device.Start].
	StartErr error

	// StopErr is returned by [Device.Stop].
	StopErr error

	// CloseErr is returned by the first [Device.Close].
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	handler func(audio.Block)
	closed  bool
}

var _ audio.Device = (*Device)(nil)

// Format implements [audio.Device].
func (d *Device) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceFormat
}

// Start implements [audio.Device].
func (d *Device) Start(handler func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.closed {
		return errors.New("mock: device closed")
	}
	if d.handler != nil {
		return errors.New("mock: device already started")
	}
	d.handler = handler
	return nil
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.handler = nil
	return d.StopErr
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if d.closed {
		return nil
	}
	d.closed = true
	d.handler = nil
	return d.CloseErr
}

// Emit delivers b to the started handler and reports whether one was
// installed. The handler runs on the calling goroutine.
func (d *Device) Emit(b audio.Block) bool {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h == nil {
		return false
	}
	h(b)
	return true
}

// Started reports whether the device currently has a handler.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler != nil
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// Devices maps a role to the device Open returns for it. A fresh copy of
	// the template's format is returned on every Open so a device can be
	// reopened after Close.
	Devices map[audio.Role]*Device

	// OpenErr maps a role to the error Open returns for it.
	OpenErr map[audio.Role]error

	// OpenCalls records the configuration of every Open call.
	OpenCalls []audio.DeviceConfig

	// Opened records every device returned by Open, in order.
	Opened []*Device
}

var _ audio.Platform = (*Platform)(nil)

// Open implements [audio.Platform]. The first Open of a role returns the
// device from Devices; later ones return a new Device with the same format
// and errors, so tests can inspect each session's devices via Opened.
func (p *Platform) Open(_ context.Context, cfg audio.DeviceConfig) (audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, cfg)
	if err := p.OpenErr[cfg.Role]; err != nil {
		return nil, err
	}
	tmpl, ok := p.Devices[cfg.Role]
	if !ok {
		return nil, errors.New("mock: no device for role " + cfg.Role.String())
	}
	dev := tmpl
	if tmpl.Closed() || tmpl.Started() {
		dev = &Device{
			DeviceFormat: tmpl.Format(),
			StartErr:     tmpl.StartErr,
			StopErr:      tmpl.StopErr,
		}
		p.Devices[cfg.Role] = dev
	}
	p.Opened = append(p.Opened, dev)
	return dev, nil
}

// Device returns the device Open most recently returned for role.
func (p *Platform) Device(role audio.Role) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Devices[role]
}

// OpenCount returns how many times Open was called.
func (p *Platform) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// ─── Permissions ──────────────────────────────────────────────────────────────

// Permissions is a mock capture permission checker.
type Permissions struct {
	mu sync.Mutex

	// Microphone is returned by MicrophoneAuthorized.
	Microphone bool

	// SystemAudio is returned by SystemAudioAuthorized.
	SystemAudio bool

	// CallCountMicrophone records how many times MicrophoneAuthorized was called.
	CallCountMicrophone int

	// CallCountSystemAudio records how many times SystemAudioAuthorized was called.
	CallCountSystemAudio int
}

// MicrophoneAuthorized returns Microphone.
func (p *Permissions) MicrophoneAuthorized(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountMicrophone++
	return p.Microphone
}

// SystemAudioAuthorized returns SystemAudio.
func (p *Permissions) SystemAudioAuthorized(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountSystemAudio++
	return p.SystemAudio
}
