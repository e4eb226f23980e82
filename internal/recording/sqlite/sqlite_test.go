package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/internal/recording/sqlite"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.Memory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := open(t)

	created := time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC)
	r := recording.New("recording-20260301-093000.wav", created)
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetStatus(ctx, r.ID, recording.StatusStreaming); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	live := []stt.Segment{{Start: 0, End: time.Second, Text: "hello"}}
	if err := s.UpdateLive(ctx, r.ID, "hello", live); err != nil {
		t.Fatalf("UpdateLive: %v", err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != recording.StatusStreaming || got.LiveText != "hello" || len(got.Segments) != 1 {
		t.Errorf("after live update: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	final := []stt.Segment{
		{Start: 0, End: time.Second, Text: "Hello"},
		{Start: time.Second, End: 2 * time.Second, Text: "world."},
	}
	err = s.Complete(ctx, r.ID, recording.Completion{
		Text:     "Hello world.",
		Segments: final,
		Status:   recording.StatusCompleted,
		Duration: 2500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err = s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "Hello world." || got.Status != recording.StatusCompleted {
		t.Errorf("after complete: %+v", got)
	}
	if got.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if len(got.Segments) != 2 || got.Segments[1].Start != time.Second {
		t.Errorf("Segments = %+v", got.Segments)
	}
}

func TestCompleteKeepsDurationWhenZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := open(t)

	r := recording.New("a.wav", time.Now())
	r.Duration = 3 * time.Second
	if err := s.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, r.ID, recording.Completion{Status: recording.StatusFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, r.ID)
	if got.Duration != 3*time.Second || got.Error != "boom" || got.Status != recording.StatusFailed {
		t.Errorf("got %+v", got)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := open(t)
	id := recording.New("x.wav", time.Now()).ID

	if _, err := s.Get(ctx, id); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("Get: %v, want ErrNotFound", err)
	}
	if err := s.UpdateLive(ctx, id, "x", nil); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("UpdateLive: %v, want ErrNotFound", err)
	}
	if err := s.SetStatus(ctx, id, recording.StatusFailed); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("SetStatus: %v, want ErrNotFound", err)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := open(t)

	if err := s.Create(ctx, &recording.Recording{ID: "nope", Filename: "a.wav", Status: recording.StatusPending}); err == nil {
		t.Error("Create accepted a non-uuid id")
	}
	r := recording.New("a.wav", time.Now())
	if err := s.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, recording.New("a.wav", time.Now())); err == nil {
		t.Error("Create accepted a duplicate filename")
	}
	if err := s.Complete(ctx, r.ID, recording.Completion{Status: recording.StatusTranscribing}); err == nil {
		t.Error("Complete accepted a non-terminal status")
	}
	if err := s.SetStatus(ctx, r.ID, "paused"); err == nil {
		t.Error("SetStatus accepted an unknown status")
	}
}

func TestListAndFilenames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := open(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"b.wav", "a.wav", "c.wav"} {
		if err := s.Create(ctx, recording.New(name, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Filename != "c.wav" || all[2].Filename != "b.wav" {
		t.Errorf("List order: %v, %v, %v", all[0].Filename, all[1].Filename, all[2].Filename)
	}
	two, _ := s.List(ctx, 2)
	if len(two) != 2 {
		t.Errorf("List(2) returned %d", len(two))
	}

	names, err := s.Filenames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[0] != "a.wav" {
		t.Errorf("Filenames = %v", names)
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "recod.sqlite")

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := recording.New("a.wav", time.Now())
	if err := s.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if _, err := s.Get(ctx, r.ID); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
