// Package recording persists recording metadata and transcripts.
//
// A [Recording] row is created when capture starts, receives the live
// transcript on every streaming tick and is completed once the final
// transcript is known. The audio itself lives in a WAV file next to the
// store; only its file name is kept here.
//
// Backends:
//   - sqlite: the default single-user store (modernc.org/sqlite, no cgo)
//   - postgres: a shared server store (pgx)
//   - mock: an in-memory store for tests
//
// natspub wraps any Store and publishes an event per completed recording.
package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/recod/pkg/provider/stt"
)

// ErrNotFound is returned when no recording has the requested ID.
var ErrNotFound = errors.New("recording: not found")

// Status is the lifecycle state of a recording.
type Status string

const (
	StatusPending      Status = "pending"
	StatusStreaming    Status = "streaming_transcription"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStreaming, StatusTranscribing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Recording is one captured session.
type Recording struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`

	// Filename is the WAV file's base name inside the recordings directory.
	Filename string `json:"filename"`

	// Text is the final, replaced transcript.
	Text string `json:"text,omitempty"`

	// LiveText is the most recent streaming transcript.
	LiveText string `json:"live_text,omitempty"`

	Segments []stt.Segment `json:"segments,omitempty"`
	Status   Status        `json:"status"`

	// Error describes why a failed recording failed.
	Error string `json:"error,omitempty"`
}

// New returns a pending recording with a fresh ID.
func New(filename string, createdAt time.Time) *Recording {
	return &Recording{
		ID:        uuid.NewString(),
		CreatedAt: createdAt,
		Filename:  filename,
		Status:    StatusPending,
	}
}

// Validate reports whether r can be stored.
func (r *Recording) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("recording: id must not be empty"))
	} else if _, err := uuid.Parse(r.ID); err != nil {
		errs = append(errs, fmt.Errorf("recording: id %q is not a uuid: %w", r.ID, err))
	}
	if r.Filename == "" {
		errs = append(errs, errors.New("recording: filename must not be empty"))
	}
	if !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("recording: unknown status %q", r.Status))
	}
	return errors.Join(errs...)
}

// Completion is the final state written by [Store.Complete].
type Completion struct {
	Text     string
	Segments []stt.Segment
	Status   Status

	// Duration of the captured audio. Zero leaves the stored value as is.
	Duration time.Duration

	// Error is kept for failed recordings.
	Error string
}

// Store is the persistence sink for recordings. Implementations must be safe
// for concurrent use.
type Store interface {
	// Create inserts r. The ID must be unique.
	Create(ctx context.Context, r *Recording) error

	// UpdateLive replaces the live transcript of a recording.
	UpdateLive(ctx context.Context, id, liveText string, segments []stt.Segment) error

	// SetStatus moves a recording to status.
	SetStatus(ctx context.Context, id string, status Status) error

	// Complete writes the final transcript and a terminal status.
	Complete(ctx context.Context, id string, c Completion) error

	// Get returns the recording or [ErrNotFound].
	Get(ctx context.Context, id string) (*Recording, error)

	// List returns up to limit recordings, newest first. limit <= 0 means
	// no limit.
	List(ctx context.Context, limit int) ([]*Recording, error)

	// Filenames returns the file names of all stored recordings.
	Filenames(ctx context.Context) ([]string, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// EncodeSegments serialises segments for a text or JSON column. Nil encodes
// as an empty array.
func EncodeSegments(segs []stt.Segment) ([]byte, error) {
	if segs == nil {
		segs = []stt.Segment{}
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return nil, fmt.Errorf("recording: encode segments: %w", err)
	}
	return b, nil
}

// DecodeSegments is the inverse of [EncodeSegments]. Empty input yields nil.
func DecodeSegments(b []byte) ([]stt.Segment, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var segs []stt.Segment
	if err := json.Unmarshal(b, &segs); err != nil {
		return nil, fmt.Errorf("recording: decode segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, nil
	}
	return segs, nil
}

// CheckCompletion validates a completion before it is written.
func CheckCompletion(c Completion) error {
	if !c.Status.Terminal() {
		return fmt.Errorf("recording: completion status %q is not terminal", c.Status)
	}
	return nil
}
