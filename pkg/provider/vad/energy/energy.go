// Package energy provides a dependency-free VAD engine that classifies
// windows by their RMS level.
//
// The level in dBFS is mapped linearly onto a probability: windows at or
// below the floor score 0, windows at or above the ceiling score 1. A short
// exponential smoothing keeps single loud clicks from scoring as speech.
//
// It is a pragmatic default for close-talking microphones. Noisy rooms are
// better served by a model-based engine registered under another name.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

const (
	defaultFloorDB   = -55.0
	defaultCeilingDB = -25.0
	defaultSmoothing = 0.3
)

// Option configures an Engine.
type Option func(*Engine)

// WithRange sets the dBFS floor and ceiling of the probability mapping.
func WithRange(floorDB, ceilingDB float64) Option {
	return func(e *Engine) {
		e.floorDB = floorDB
		e.ceilingDB = ceilingDB
	}
}

// WithSmoothing sets the weight of the previous probability in [0, 1).
// Zero disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) {
		e.smoothing = alpha
	}
}

// Engine creates energy-based sessions.
type Engine struct {
	floorDB   float64
	ceilingDB float64
	smoothing float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		floorDB:   defaultFloorDB,
		ceilingDB: defaultCeilingDB,
		smoothing: defaultSmoothing,
	}
	for _, o := range opts {
		o(e)
	}
	if e.ceilingDB <= e.floorDB {
		return nil, fmt.Errorf("energy: ceiling %.1f dB must be above floor %.1f dB", e.ceilingDB, e.floorDB)
	}
	if e.smoothing < 0 || e.smoothing >= 1 {
		return nil, fmt.Errorf("energy: smoothing %.2f out of range [0, 1)", e.smoothing)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{engine: e, cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	engine *Engine
	cfg    vad.Config

	mu     sync.Mutex
	prev   float64
	closed bool
}

func (s *session) ProcessWindow(window []float32) (float64, error) {
	if len(window) != s.cfg.WindowSize {
		return 0, fmt.Errorf("%w: got %d samples, want %d", vad.ErrWindowSize, len(window), s.cfg.WindowSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, vad.ErrClosed
	}

	e := s.engine
	p := (audio.LevelDB(window) - e.floorDB) / (e.ceilingDB - e.floorDB)
	p = min(max(p, 0), 1)
	if e.smoothing > 0 {
		p = e.smoothing*s.prev + (1-e.smoothing)*p
	}
	s.prev = p
	return p, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.prev = 0
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
