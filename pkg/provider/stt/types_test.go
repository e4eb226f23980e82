package stt_test

import (
	"testing"
	"time"

	"github.com/MrWong99/recod/pkg/provider/stt"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestBuildSegments(t *testing.T) {
	t.Parallel()

	tokens := []stt.Token{
		{Text: "▁Hel", Start: ms(0), Duration: ms(100), Timed: true},
		{Text: "lo", Start: ms(100), Duration: ms(100), Timed: true},
		{Text: ",", Start: ms(200)},
		{Text: "▁world", Start: ms(300), Duration: ms(200), Timed: true},
		{Text: ".", Start: ms(500), Duration: ms(50), Timed: true},
		{Text: "▁", Start: ms(600)},
		{Text: " how", Start: ms(700), Duration: ms(100), Timed: true},
		{Text: "▁are", Start: ms(800), Duration: ms(100), Timed: true},
		{Text: "▁you", Start: ms(900)},
	}
	got := stt.BuildSegments(tokens, 2*time.Second)
	want := []stt.Segment{
		{Start: 2*time.Second + ms(0), End: 2*time.Second + ms(550), Text: "Hello, world."},
		{Start: 2*time.Second + ms(700), End: 2*time.Second + ms(980), Text: "how are you"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d segments %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildSegments_Empty(t *testing.T) {
	t.Parallel()

	if got := stt.BuildSegments(nil, 0); got != nil {
		t.Errorf("nil tokens: got %+v", got)
	}
	if got := stt.BuildSegments([]stt.Token{{Text: "▁"}, {Text: " "}}, 0); got != nil {
		t.Errorf("blank tokens: got %+v", got)
	}
}

func TestBuildSegments_ZeroLengthTokens(t *testing.T) {
	t.Parallel()

	tokens := []stt.Token{
		{Text: "▁ok", Start: ms(100), Timed: true},
		{Text: "▁go", Start: ms(200)},
	}
	got := stt.BuildSegments(tokens, 0)
	want := stt.Segment{Start: ms(100), End: ms(280), Text: "ok go"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("segments = %+v, want [%+v]", got, want)
	}

	// A timed zero-length word keeps its end at its start.
	got = stt.BuildSegments(tokens[:1], 0)
	if len(got) != 1 || got[0].End != ms(100) {
		t.Errorf("segments = %+v, want one ending at 100ms", got)
	}
}

func TestBuildSegments_QuestionAndExclamation(t *testing.T) {
	t.Parallel()

	tokens := []stt.Token{
		{Text: "▁Why?", Start: ms(0)},
		{Text: "▁Stop!", Start: ms(100)},
		{Text: "▁Go", Start: ms(200)},
	}
	got := stt.BuildSegments(tokens, 0)
	if len(got) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Errorf("segments out of order: %+v", got)
		}
	}
}

func TestSegmentsFromText(t *testing.T) {
	t.Parallel()

	got := stt.SegmentsFromText("  hi there ", time.Second, 2*time.Second)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	if got[0] != (stt.Segment{Start: time.Second, End: 3 * time.Second, Text: "hi there"}) {
		t.Errorf("segment = %+v", got[0])
	}
	if got := stt.SegmentsFromText("   ", 0, time.Second); got != nil {
		t.Errorf("blank text: got %+v", got)
	}
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"<|en|><|0.00|> Hello there<|2.40|>", "Hello there"},
		{"plain", "plain"},
		{"<|endoftext|>", ""},
		{"a <|x|> b", "a  b"},
	}
	for _, tc := range tests {
		if got := stt.CleanText(tc.in); got != tc.want {
			t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 3*stt.SampleRate)
	got, base := stt.Clip(samples, stt.Options{ClipFrom: time.Second, Offset: 500 * time.Millisecond})
	if len(got) != 2*stt.SampleRate {
		t.Errorf("clipped len = %d, want %d", len(got), 2*stt.SampleRate)
	}
	if base != 1500*time.Millisecond {
		t.Errorf("base = %v, want 1.5s", base)
	}

	got, base = stt.Clip(samples, stt.Options{ClipFrom: 5 * time.Second})
	if len(got) != 0 || base != 5*time.Second {
		t.Errorf("clip past end: len=%d base=%v", len(got), base)
	}

	got, base = stt.Clip(samples, stt.Options{})
	if len(got) != len(samples) || base != 0 {
		t.Errorf("no clip: len=%d base=%v", len(got), base)
	}
}

func TestJoinText(t *testing.T) {
	t.Parallel()

	segs := []stt.Segment{{Text: " a "}, {Text: ""}, {Text: "b"}}
	if got := stt.JoinText(segs); got != "a b" {
		t.Errorf("JoinText = %q, want %q", got, "a b")
	}
}
