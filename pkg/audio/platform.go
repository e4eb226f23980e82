// Package audio defines the capture device abstraction and the sample
// formats, conversions and level metering shared by the recording pipeline.
//
// The two primary abstractions are:
//
//   - [Platform]: opens capture devices by role and name.
//   - [Device]: an opened microphone or system-audio loopback that delivers
//     [Block] values to a handler once started.
//
// Implementations live in adapter packages (audio/portaudio, audio/wavfile)
// and in audio/mock for tests. The interfaces are intentionally narrow to
// keep the capture graph decoupled from any particular audio backend.
//
// This package lives under pkg/ because external code is expected to
// implement [Platform] and [Device].
package audio

import (
	"context"
)

// Role classifies what a capture device records.
type Role int

const (
	// RoleMicrophone is the user's input device.
	RoleMicrophone Role = iota

	// RoleSystem is a loopback of the system audio output.
	RoleSystem
)

// String returns the human-readable name of the role.
func (r Role) String() string {
	switch r {
	case RoleMicrophone:
		return "MICROPHONE"
	case RoleSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// DeviceConfig selects and parameterises a capture device.
type DeviceConfig struct {
	// Role is the branch the device feeds.
	Role Role

	// Name selects a device by name. Empty selects the platform default for
	// the role.
	Name string

	// SampleRate requests a rate in Hz. Zero keeps the device's native rate.
	SampleRate int

	// Channels requests a channel count. Zero keeps the native count.
	Channels int

	// FramesPerBuffer is the callback block size. Zero lets the platform
	// choose.
	FramesPerBuffer int
}

// Device is an opened capture device.
//
// The handler passed to Start is invoked on the device's own goroutine for
// every captured block, in capture order, and must not block. The Block's
// Samples slice is only valid for the duration of the call.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Format returns the native format of the blocks the device delivers.
	Format() Format

	// Start begins delivering blocks to handler. Calling Start on a started
	// device returns an error.
	Start(handler func(Block)) error

	// Stop halts delivery. No handler call is in flight once Stop returns.
	// Stopping a stopped device is a no-op.
	Stop() error

	// Close stops the device and releases it. It is safe to call Close more
	// than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Platform is the entry point for an audio backend.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Open acquires the device described by cfg. The device is returned
	// stopped. ctx governs the open attempt only.
	Open(ctx context.Context, cfg DeviceConfig) (Device, error)
}
