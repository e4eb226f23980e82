package vadgate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/recod/internal/vadgate"
	"github.com/MrWong99/recod/pkg/provider/vad/mock"
)

const window = vadgate.DefaultWindow

// script returns a classifier answering n windows per (probability, count) pair
// and a matching sample buffer whose values encode the window index.
func script(runs ...[2]float64) (*mock.Session, []float32) {
	sess := &mock.Session{}
	var samples []float32
	for _, r := range runs {
		for range int(r[1]) {
			sess.Probabilities = append(sess.Probabilities, r[0])
			idx := float32(len(samples) / window)
			for range window {
				samples = append(samples, idx)
			}
		}
	}
	return sess, samples
}

func newGate(t *testing.T, sess *mock.Session, cfg vadgate.Config) *vadgate.Gate {
	t.Helper()
	g, err := vadgate.New(sess, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGate_Hysteresis(t *testing.T) {
	t.Parallel()

	// 10 silent windows, 20 speech windows (640ms), 20 silent windows (640ms).
	sess, samples := script([2]float64{0, 10}, [2]float64{0.9, 20}, [2]float64{0, 20})
	g := newGate(t, sess, vadgate.Config{})

	n, err := g.Feed(samples)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if n != len(samples) {
		t.Fatalf("consumed %d samples, want %d", n, len(samples))
	}
	if g.Len() != 1 {
		t.Fatalf("queued %d segments, want 1", g.Len())
	}
	seg, ok := g.Pop()
	if !ok {
		t.Fatal("Pop returned false")
	}
	if seg.Start != 10*window {
		t.Errorf("segment start = %d, want %d", seg.Start, 10*window)
	}
	if len(seg.Samples) != 20*window {
		t.Errorf("segment length = %d, want %d", len(seg.Samples), 20*window)
	}
	if got, want := seg.Offset(), time.Duration(10*window)*time.Second/16000; got != want {
		t.Errorf("Offset() = %v, want %v", got, want)
	}
	if !g.IsEmpty() {
		t.Error("queue should be empty after Pop")
	}
}

func TestGate_ShortPauseDoesNotSplit(t *testing.T) {
	t.Parallel()

	// A 5-window (160ms) pause is shorter than MinSilence and stays inside
	// the segment.
	sess, samples := script(
		[2]float64{0.9, 10}, [2]float64{0, 5}, [2]float64{0.9, 10}, [2]float64{0, 20},
	)
	g := newGate(t, sess, vadgate.Config{})
	if _, err := g.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("queued %d segments, want 1", g.Len())
	}
	seg, _ := g.Pop()
	if seg.Start != 0 || len(seg.Samples) != 25*window {
		t.Errorf("segment = [%d, +%d), want [0, +%d)", seg.Start, len(seg.Samples), 25*window)
	}
}

func TestGate_BriefNoiseIgnored(t *testing.T) {
	t.Parallel()

	// Three voiced windows (96ms) never reach MinSpeech.
	sess, samples := script([2]float64{0.9, 3}, [2]float64{0, 30})
	g := newGate(t, sess, vadgate.Config{})
	if _, err := g.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !g.IsEmpty() {
		t.Errorf("queued %d segments for a click, want 0", g.Len())
	}
}

func TestGate_Flush(t *testing.T) {
	t.Parallel()

	sess, samples := script([2]float64{0, 4}, [2]float64{0.9, 20}, [2]float64{0, 5})
	g := newGate(t, sess, vadgate.Config{})
	if _, err := g.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !g.IsEmpty() {
		t.Fatal("no segment should complete before MinSilence")
	}
	if !g.InSpeech() {
		t.Error("gate should still be inside speech")
	}

	g.Flush()
	if g.Len() != 1 {
		t.Fatalf("queued %d segments after Flush, want 1", g.Len())
	}
	seg, _ := g.Pop()
	if seg.Start != 4*window || len(seg.Samples) != 20*window {
		t.Errorf("flushed segment = [%d, +%d), want [%d, +%d)", seg.Start, len(seg.Samples), 4*window, 20*window)
	}
	for i, v := range seg.Samples {
		if want := float32(4 + i/window); v != want {
			t.Fatalf("sample %d = %v, want %v", i, v, want)
		}
	}
	if !g.IsEmpty() {
		t.Error("IsEmpty should be true after popping the flushed segment")
	}

	// A second flush with nothing pending is a no-op.
	g.Flush()
	if !g.IsEmpty() {
		t.Error("second Flush emitted a segment")
	}
}

func TestGate_MaxSpeechSplits(t *testing.T) {
	t.Parallel()

	cfg := vadgate.Config{MaxSpeech: time.Second}
	// 1s at 16kHz is 31.25 windows; 70 voiced windows split into 32 + 32 + 6.
	sess, samples := script([2]float64{0.9, 70})
	g := newGate(t, sess, cfg)
	if _, err := g.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	g.Flush()

	var starts, lengths []int
	for {
		seg, ok := g.Pop()
		if !ok {
			break
		}
		starts = append(starts, seg.Start)
		lengths = append(lengths, len(seg.Samples))
	}
	wantStarts := []int{0, 32 * window, 64 * window}
	wantLengths := []int{32 * window, 32 * window, 6 * window}
	if len(starts) != len(wantStarts) {
		t.Fatalf("got %d segments, want %d", len(starts), len(wantStarts))
	}
	for i := range wantStarts {
		if starts[i] != wantStarts[i] || lengths[i] != wantLengths[i] {
			t.Errorf("segment %d = [%d, +%d), want [%d, +%d)", i, starts[i], lengths[i], wantStarts[i], wantLengths[i])
		}
	}
}

func TestGate_FeedKeepsRemainder(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{}
	g := newGate(t, sess, vadgate.Config{})

	n, err := g.Feed(make([]float32, window*2+100))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if n != 2*window {
		t.Errorf("consumed %d, want %d", n, 2*window)
	}
	if n, _ := g.Feed(make([]float32, window-1)); n != 0 {
		t.Errorf("short feed consumed %d, want 0", n)
	}
	if g.Processed() != 2*window {
		t.Errorf("Processed() = %d, want %d", g.Processed(), 2*window)
	}
	if sess.WindowCount() != 2 {
		t.Errorf("classifier saw %d windows, want 2", sess.WindowCount())
	}
}

func TestGate_ClassifierError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sess := &mock.Session{ProcessErr: boom}
	g := newGate(t, sess, vadgate.Config{})

	n, err := g.Feed(make([]float32, 3*window))
	if !errors.Is(err, boom) {
		t.Fatalf("Feed error = %v, want %v", err, boom)
	}
	if n != 0 || g.Processed() != 0 {
		t.Errorf("failing window must not be consumed: n=%d processed=%d", n, g.Processed())
	}
}

func TestGate_Reset(t *testing.T) {
	t.Parallel()

	sess, samples := script([2]float64{0.9, 20}, [2]float64{0, 20})
	g := newGate(t, sess, vadgate.Config{})
	if _, err := g.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	g.Reset()
	if !g.IsEmpty() || g.Processed() != 0 || g.InSpeech() {
		t.Error("Reset left state behind")
	}
	if sess.Resets() != 1 {
		t.Errorf("classifier Reset called %d times, want 1", sess.Resets())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := vadgate.New(nil, vadgate.Config{}); err == nil {
		t.Error("expected error for nil classifier")
	}
	tests := []struct {
		name string
		cfg  vadgate.Config
	}{
		{"threshold above one", vadgate.Config{Threshold: 1.5}},
		{"max below min speech", vadgate.Config{MinSpeech: time.Second, MaxSpeech: 500 * time.Millisecond}},
		{"negative silence", vadgate.Config{MinSilence: -time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := vadgate.New(&mock.Session{}, tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
