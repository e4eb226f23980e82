// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A recognizer wraps a batch transcription engine (a local whisper.cpp model,
// a whisper-server over HTTP, Deepgram, ...) and exposes a uniform decode
// call: mono 16 kHz float32 samples in, text plus timestamped segments out.
// Streaming behaviour is layered on top by the coordinators in
// internal/streaming, which call Transcribe repeatedly on growing or
// VAD-segmented audio.
//
// Implementations must be safe for concurrent use. Decoding is long-running
// and may fail; every call takes a context that cancels the request.
package stt

import (
	"context"
	"errors"
	"time"
)

// SampleRate is the sample rate every recognizer expects, in Hz.
const SampleRate = 16000

// ErrNotSupported is returned by optional capabilities that a backend does
// not implement.
var ErrNotSupported = errors.New("stt: not supported")

// Options carries per-call decoding hints. The zero value decodes the whole
// buffer with the recognizer's configured language.
type Options struct {
	// Language is the ISO 639-1 language code (e.g. "en", "de"). Empty or
	// "auto" lets the recognizer pick its default or detect.
	Language string

	// DetectLanguage asks the recognizer to detect the spoken language and
	// report it in Result.Language. Recognizers that cannot detect leave
	// Result.Language empty.
	DetectLanguage bool

	// ClipFrom skips audio before this position in the supplied buffer.
	// Timestamps in the result still count from the start of the buffer.
	ClipFrom time.Duration

	// Offset is added to every timestamp in the result. The segmented
	// streaming strategy sets it to the speech segment's start so timestamps
	// are session-relative.
	Offset time.Duration

	// Prompt is an initial prompt that biases decoding towards the user's
	// vocabulary. Ignored by recognizers without prompt support.
	Prompt string

	// Keywords boosts individual terms on recognizers that support keyword
	// biasing.
	Keywords []KeywordBoost

	// Temperature is the sampling temperature. Zero requests greedy decoding,
	// which keeps repeated decodes of the same audio stable.
	Temperature float64
}

// Result is the outcome of a single decode.
type Result struct {
	// Text is the full transcription, trimmed.
	Text string

	// Language is the detected or configured language, if known.
	Language string

	// Segments are the timestamped pieces of Text in non-decreasing start
	// order.
	Segments []Segment

	// Tokens carries sub-word output when the backend exposes it.
	Tokens []Token
}

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Transcribe decodes samples (mono, SampleRate Hz, normalised to [-1, 1]).
	// An empty input yields an empty Result and no error.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
}

// FileRecognizer is implemented by recognizers that can decode an audio file
// directly, without the caller loading it into memory first.
type FileRecognizer interface {
	TranscribeFile(ctx context.Context, path string, opts Options) (Result, error)
}

// Clip applies opts.ClipFrom to samples. It returns the remaining samples and
// the base offset that timestamps relative to the returned slice must be
// shifted by to become relative to opts.Offset's origin.
func Clip(samples []float32, opts Options) ([]float32, time.Duration) {
	if opts.ClipFrom <= 0 {
		return samples, opts.Offset
	}
	skip := int(opts.ClipFrom * SampleRate / time.Second)
	if skip >= len(samples) {
		return nil, opts.Offset + opts.ClipFrom
	}
	return samples[skip:], opts.Offset + time.Duration(skip)*time.Second/SampleRate
}

// SamplesDuration returns the playback length of n samples at SampleRate.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
