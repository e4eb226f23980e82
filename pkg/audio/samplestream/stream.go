// Package samplestream holds the growing mono 16 kHz sample buffer shared
// between the capture callback (the only writer) and the streaming
// transcription coordinators (readers).
//
// Readers keep their own cursor and call [Stream.ReadFrom] to fetch only the
// samples appended since their last poll, so repeated polling costs O(new)
// rather than O(total).
package samplestream

import (
	"sync"
	"time"
)

// Stream is an append-only buffer of float32 samples. Samples are never
// mutated once appended; only [Stream.Clear] removes them.
//
// All methods are safe for concurrent use. The mutex is held only for the
// duration of a copy.
type Stream struct {
	sampleRate int

	mu      sync.Mutex
	samples []float32
}

// New returns an empty Stream of the given sample rate.
func New(sampleRate int) *Stream {
	return &Stream{sampleRate: sampleRate}
}

// SampleRate returns the rate the stream was created with.
func (s *Stream) SampleRate() int { return s.sampleRate }

// Append adds samples to the tail. It is called from the device callback and
// never blocks beyond a slice append.
func (s *Stream) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, samples...)
	s.mu.Unlock()
}

// Snapshot returns a copy of every sample in the stream.
func (s *Stream) Snapshot() []float32 {
	return s.ReadFrom(0)
}

// ReadFrom returns a copy of the samples at index and after. An index outside
// [0, Len) yields an empty slice rather than an error.
func (s *Stream) ReadFrom(index int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.samples) {
		return []float32{}
	}
	out := make([]float32, len(s.samples)-index)
	copy(out, s.samples[index:])
	return out
}

// Len returns the number of samples appended since the last Clear.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Duration returns the audio length currently held.
func (s *Stream) Duration() time.Duration {
	if s.sampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Len()) * time.Second / time.Duration(s.sampleRate)
}

// Clear drops all samples. Only call it while no capture is writing.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.samples = nil
	s.mu.Unlock()
}
