// Package mock provides scripted voice activity classifiers for tests.
//
//	sess := &mock.Session{Probabilities: []float64{0, 0, 0.9, 0.9}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

// speechLevelDB is the loudness at which a ByLevel session hears speech.
const speechLevelDB = -40

// Engine hands out Session, or a fresh silent one when Session is nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the config of every session requested so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session answers each window with the next value of Probabilities and
// then with Default. With ByLevel set it ignores the script and hears
// speech in any window at or above -40 dBFS.
type Session struct {
	Probabilities []float64
	Default       float64
	ByLevel       bool

	ProcessErr error
	CloseErr   error

	mu      sync.Mutex
	windows int
	resets  int
	closes  int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessWindow(window []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows++
	switch {
	case s.ProcessErr != nil:
		return 0, s.ProcessErr
	case s.ByLevel:
		if audio.LevelDB(window) >= speechLevelDB {
			return 1, nil
		}
		return 0, nil
	case len(s.Probabilities) > 0:
		p := s.Probabilities[0]
		s.Probabilities = s.Probabilities[1:]
		return p, nil
	}
	return s.Default, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// WindowCount is the number of windows classified so far.
func (s *Session) WindowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows
}

// Resets is the number of Reset calls.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closes is the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
