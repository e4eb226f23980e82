package samplestream_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/recod/pkg/audio/samplestream"
)

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestReadFrom_IncrementalProperty(t *testing.T) {
	t.Parallel()

	s := samplestream.New(16000)
	sizes := []int{3, 0, 7, 1, 12}
	var all []float32
	for _, n := range sizes {
		chunk := ramp(len(all), n)
		s.Append(chunk)
		all = append(all, chunk...)

		for k := 0; k <= len(all); k++ {
			got := s.ReadFrom(k)
			want := all[k:]
			if len(got) != len(want) {
				t.Fatalf("ReadFrom(%d) after %d samples: got len=%d, want %d", k, len(all), len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("ReadFrom(%d)[%d]: got=%v, want %v", k, i, got[i], want[i])
				}
			}
		}
	}
}

func TestReadFrom_OutOfRange(t *testing.T) {
	t.Parallel()

	s := samplestream.New(16000)
	s.Append([]float32{1, 2, 3})

	for _, idx := range []int{-1, 3, 100} {
		if got := s.ReadFrom(idx); len(got) != 0 {
			t.Errorf("ReadFrom(%d): got len=%d, want 0", idx, len(got))
		}
	}
}

func TestReadFrom_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := samplestream.New(16000)
	s.Append([]float32{1, 2, 3})
	got := s.ReadFrom(0)
	got[0] = 99
	if again := s.Snapshot(); again[0] != 1 {
		t.Errorf("mutating a read changed the stream: got %v", again[0])
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	s := samplestream.New(16000)
	s.Append(ramp(0, 16000))
	if d := s.Duration(); d != time.Second {
		t.Errorf("Duration() = %v, want 1s", d)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", s.Len())
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() after Clear: got len=%d, want 0", len(got))
	}
}

func TestConcurrentAppendAndRead(t *testing.T) {
	t.Parallel()

	s := samplestream.New(16000)
	const blocks = 200
	const blockSize = 160

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range blocks {
			s.Append(ramp(i*blockSize, blockSize))
		}
	}()

	cursor := 0
	var read []float32
	for cursor < blocks*blockSize {
		chunk := s.ReadFrom(cursor)
		read = append(read, chunk...)
		cursor += len(chunk)
	}
	wg.Wait()

	for i, v := range read {
		if v != float32(i) {
			t.Fatalf("sample %d: got %v, want %v", i, v, float32(i))
		}
	}
}
