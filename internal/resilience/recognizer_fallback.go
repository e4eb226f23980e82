package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/recod/pkg/audio/wavfile"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// RecognizerFallback is a recognizer that delegates to the first healthy
// backend of an ordered chain.
type RecognizerFallback struct {
	chain chain[stt.Recognizer]
}

var (
	_ stt.Recognizer     = (*RecognizerFallback)(nil)
	_ stt.FileRecognizer = (*RecognizerFallback)(nil)
)

// NewRecognizerFallback starts a chain with primary as the preferred backend.
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	f := &RecognizerFallback{chain: chain[stt.Recognizer]{cfg: cfg}}
	f.chain.add(primaryName, primary)
	return f
}

// AddFallback appends a backend that is asked after all earlier ones.
func (f *RecognizerFallback) AddFallback(name string, rec stt.Recognizer) {
	f.chain.add(name, rec)
}

// Status lists the backends in order with their breaker state.
func (f *RecognizerFallback) Status() []BackendStatus { return f.chain.status() }

// Healthy reports whether some backend would take a call.
func (f *RecognizerFallback) Healthy() bool { return f.chain.healthy() }

func (f *RecognizerFallback) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	res, _, err := first(ctx, &f.chain, func(r stt.Recognizer) (stt.Result, error) {
		return r.Transcribe(ctx, samples, opts)
	})
	return res, err
}

// TranscribeFile decodes the WAV file at path. Backends that read files
// themselves get the path; the others get its samples, decoded at most once.
func (f *RecognizerFallback) TranscribeFile(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	samples := sync.OnceValues(func() ([]float32, error) {
		return wavfile.ReadRecognizer(path)
	})
	res, _, err := first(ctx, &f.chain, func(r stt.Recognizer) (stt.Result, error) {
		if fr, ok := r.(stt.FileRecognizer); ok {
			return fr.TranscribeFile(ctx, path, opts)
		}
		pcm, err := samples()
		if err != nil {
			return stt.Result{}, err
		}
		return r.Transcribe(ctx, pcm, opts)
	})
	return res, err
}
