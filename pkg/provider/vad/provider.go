// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a window-level speech classifier (an energy detector,
// Silero, WebRTC VAD, ...) and surfaces it as a stateful, per-stream session.
// Each session keeps its own smoothing history so that several audio streams
// can be classified independently.
//
// Sessions only answer "how likely is this window to be speech". Turning the
// per-window probabilities into speech segments with minimum durations is the
// job of the gate in internal/vadgate.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

var (
	// ErrWindowSize is returned by ProcessWindow when the supplied window does
	// not contain exactly Config.WindowSize samples.
	ErrWindowSize = errors.New("vad: window size mismatch")

	// ErrClosed is returned by ProcessWindow after Close.
	ErrClosed = errors.New("vad: session closed")
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// windows passed to ProcessWindow. The capture pipeline always uses 16000.
	SampleRate int

	// WindowSize is the number of mono samples per window. Most VAD models
	// operate on fixed window sizes (512 samples is 32 ms at 16 kHz).
	// ProcessWindow returns ErrWindowSize if the supplied window differs.
	WindowSize int
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, errors.New("vad: window size must be positive"))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessWindow classifies one window of normalised float32 samples and
	// returns the speech probability in [0, 1].
	//
	// This method is called synchronously from the streaming loop; it must
	// not block on I/O.
	ProcessWindow(window []float32) (float64, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream restarts.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessWindow returns ErrClosed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
