package recording_test

import (
	"testing"
	"time"

	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []recording.Status{
		recording.StatusPending, recording.StatusStreaming, recording.StatusTranscribing,
		recording.StatusCompleted, recording.StatusFailed,
	} {
		if !s.Valid() {
			t.Errorf("%q not valid", s)
		}
	}
	if recording.Status("paused").Valid() {
		t.Error("unknown status reported valid")
	}
	if !recording.StatusFailed.Terminal() || recording.StatusTranscribing.Terminal() {
		t.Error("Terminal misclassified")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	a := recording.New("a.wav", time.Now())
	b := recording.New("a.wav", time.Now())
	if a.ID == b.ID {
		t.Error("IDs not unique")
	}
	if a.Status != recording.StatusPending {
		t.Errorf("status = %q", a.Status)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := (&recording.Recording{}).Validate(); err == nil {
		t.Error("empty recording validated")
	}
}

func TestSegmentsCodec(t *testing.T) {
	t.Parallel()

	b, err := recording.EncodeSegments(nil)
	if err != nil || string(b) != "[]" {
		t.Errorf("EncodeSegments(nil) = %s, %v", b, err)
	}
	in := []stt.Segment{{Start: 250 * time.Millisecond, End: time.Second, Text: "hi"}}
	b, _ = recording.EncodeSegments(in)
	out, err := recording.DecodeSegments(b)
	if err != nil || len(out) != 1 || out[0] != in[0] {
		t.Errorf("DecodeSegments = %+v, %v", out, err)
	}
	if out, _ := recording.DecodeSegments([]byte("[]")); out != nil {
		t.Errorf("empty array decoded to %v", out)
	}
	if _, err := recording.DecodeSegments([]byte("{")); err == nil {
		t.Error("malformed JSON decoded")
	}
}
