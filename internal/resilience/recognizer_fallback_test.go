package resilience_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/recod/internal/resilience"
	"github.com/MrWong99/recod/pkg/provider/stt"
	sttmock "github.com/MrWong99/recod/pkg/provider/stt/mock"
)

// samplesOnly hides the mock's TranscribeFile.
type samplesOnly struct{ rec *sttmock.Recognizer }

func (s samplesOnly) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	return s.rec.Transcribe(ctx, samples, opts)
}

func writeWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: 16000, NumChannels: 1},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecognizerFallback_Transcribe(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Err: errors.New("primary down")}
	secondary := &sttmock.Recognizer{Result: stt.Result{Text: "from secondary"}}
	fb := resilience.NewRecognizerFallback(primary, "primary", resilience.FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), []float32{0, 0}, stt.Options{Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from secondary" {
		t.Errorf("text = %q", res.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}
	if secondary.Call(0).Opts.Language != "de" {
		t.Error("options not forwarded")
	}
}

func TestRecognizerFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := resilience.NewRecognizerFallback(&sttmock.Recognizer{Err: errors.New("down")}, "only", resilience.FallbackConfig{})
	if _, err := fb.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestRecognizerFallback_TranscribeFile(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 8000)

	fileRec := &sttmock.Recognizer{Err: errors.New("model missing")}
	plain := &sttmock.Recognizer{Result: stt.Result{Text: "decoded"}}
	fb := resilience.NewRecognizerFallback(fileRec, "file", resilience.FallbackConfig{})
	fb.AddFallback("plain", samplesOnly{plain})

	res, err := fb.TranscribeFile(context.Background(), path, stt.Options{})
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if res.Text != "decoded" {
		t.Errorf("text = %q", res.Text)
	}
	if got := fileRec.Call(0).Path; got != path {
		t.Errorf("file recognizer got path %q", got)
	}
	if n := len(plain.Call(0).Samples); n != 8000 {
		t.Errorf("plain recognizer got %d samples, want 8000", n)
	}
}

func TestRecognizerFallback_TranscribeFileUnreadable(t *testing.T) {
	t.Parallel()

	plain := &sttmock.Recognizer{}
	fb := resilience.NewRecognizerFallback(samplesOnly{plain}, "plain", resilience.FallbackConfig{})
	_, err := fb.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), stt.Options{})
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if plain.CallCount() != 0 {
		t.Error("recognizer called without samples")
	}
}

func TestRecognizerFallback_Status(t *testing.T) {
	t.Parallel()

	fb := resilience.NewRecognizerFallback(&sttmock.Recognizer{}, "whisper", resilience.FallbackConfig{})
	fb.AddFallback("deepgram", &sttmock.Recognizer{})
	st := fb.Status()
	if len(st) != 2 || st[0].Name != "whisper" || st[1].Name != "deepgram" {
		t.Errorf("Status = %+v", st)
	}
	if !fb.Healthy() {
		t.Error("fresh group not healthy")
	}
}
