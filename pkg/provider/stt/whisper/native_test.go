package whisper_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/stt/whisper"
)

// nativeModel loads the ggml model named by WHISPER_MODEL_PATH, skipping
// the test when none is configured.
func nativeModel(t *testing.T, opts ...whisper.NativeOption) *whisper.Native {
	t.Helper()
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	rec, err := whisper.NewNative(path, opts...)
	if err != nil {
		t.Fatalf("NewNative(%s): %v", path, err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func TestNewNative_BadModel(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q): want error", path)
		}
	}
}

func TestNative_Transcribe(t *testing.T) {
	rec := nativeModel(t, whisper.WithNativeLanguage("en"))

	t.Run("empty input", func(t *testing.T) {
		res, err := rec.Transcribe(context.Background(), nil, stt.Options{})
		if err != nil || res.Text != "" || len(res.Segments) != 0 {
			t.Errorf("Transcribe(nil) = %+v, %v", res, err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := rec.Transcribe(ctx, make([]float32, stt.SampleRate), stt.Options{}); err == nil {
			t.Error("Transcribe with a cancelled context: want error")
		}
	})

	t.Run("segments shifted by offset", func(t *testing.T) {
		offset := 90 * time.Second
		res, err := rec.Transcribe(context.Background(), make([]float32, 2*stt.SampleRate), stt.Options{Offset: offset})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		for i, s := range res.Segments {
			if s.Start < offset || s.End < s.Start {
				t.Errorf("segment %d = [%s, %s], want it at or after %s", i, s.Start, s.End, offset)
			}
		}
	})
}
