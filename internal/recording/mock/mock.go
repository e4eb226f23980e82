// Package mock provides an in-memory recording.Store for tests.
//
// Store keeps every recording in a map and records the live updates it
// receives, so tests can assert on the sequence of transcripts the recorder
// published.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// LiveUpdate records one UpdateLive call.
type LiveUpdate struct {
	ID       string
	LiveText string
	Segments []stt.Segment
}

// Store is an in-memory recording.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]*recording.Recording

	// PingErr, CreateErr and CompleteErr are returned by the matching
	// methods when non-nil.
	PingErr     error
	CreateErr   error
	CompleteErr error

	// Updates records every UpdateLive call in order.
	Updates []LiveUpdate

	// Statuses records every status a recording passed through, including
	// the one it was created with.
	Statuses map[string][]recording.Status

	Closed bool
}

var _ recording.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:  make(map[string]*recording.Recording),
		Statuses: make(map[string][]recording.Status),
	}
}

// Create implements recording.Store.
func (s *Store) Create(_ context.Context, r *recording.Recording) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("mock: recording %q already exists", r.ID)
	}
	cp := *r
	s.records[r.ID] = &cp
	s.Statuses[r.ID] = append(s.Statuses[r.ID], r.Status)
	return nil
}

// UpdateLive implements recording.Store.
func (s *Store) UpdateLive(_ context.Context, id, liveText string, segments []stt.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return recording.ErrNotFound
	}
	r.LiveText = liveText
	r.Segments = slices.Clone(segments)
	s.Updates = append(s.Updates, LiveUpdate{ID: id, LiveText: liveText, Segments: slices.Clone(segments)})
	return nil
}

// SetStatus implements recording.Store.
func (s *Store) SetStatus(_ context.Context, id string, status recording.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return recording.ErrNotFound
	}
	r.Status = status
	s.Statuses[id] = append(s.Statuses[id], status)
	return nil
}

// Complete implements recording.Store.
func (s *Store) Complete(_ context.Context, id string, c recording.Completion) error {
	if err := recording.CheckCompletion(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CompleteErr != nil {
		return s.CompleteErr
	}
	r, ok := s.records[id]
	if !ok {
		return recording.ErrNotFound
	}
	r.Text = c.Text
	r.Segments = slices.Clone(c.Segments)
	r.Status = c.Status
	r.Error = c.Error
	if c.Duration > 0 {
		r.Duration = c.Duration
	}
	s.Statuses[id] = append(s.Statuses[id], c.Status)
	return nil
}

// Get implements recording.Store.
func (s *Store) Get(_ context.Context, id string) (*recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, recording.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List implements recording.Store.
func (s *Store) List(_ context.Context, limit int) ([]*recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*recording.Recording, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *recording.Recording) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Filenames implements recording.Store.
func (s *Store) Filenames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Filename)
	}
	slices.Sort(out)
	return out, nil
}

// Ping implements recording.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements recording.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// UpdateCount returns the number of UpdateLive calls. Thread-safe.
func (s *Store) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Updates)
}

// StatusHistory returns the statuses id passed through. Thread-safe.
func (s *Store) StatusHistory(id string) []recording.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Statuses[id])
}
