// This file contains the Native recognizer backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/recod/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Recognizer.
var _ stt.Recognizer = (*Native)(nil)

// Native implements stt.Recognizer using whisper.cpp Go bindings (CGO). The
// model is loaded once and shared; every call creates its own context, so
// concurrent calls do not interfere.
type Native struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a Native recognizer.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language code (e.g. "en", "de", or
// "auto"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeThreads sets the number of decoding threads. Zero keeps the
// library default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the recognizer is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over samples using a fresh context.
// The call itself is not interruptible; ctx is checked before and after.
func (n *Native) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	clipped, base := stt.Clip(samples, opts)
	if len(clipped) == 0 {
		return stt.Result{}, nil
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := n.language
	if opts.Language != "" {
		lang = opts.Language
	}
	if opts.DetectLanguage {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}
	wctx.SetTemperature(float32(opts.Temperature))

	if err := wctx.Process(clipped, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	res := stt.Result{Language: lang}
	if lang == "auto" {
		res.Language = wctx.DetectedLanguage()
	}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := stt.CleanText(segment.Text)
		if text == "" {
			continue
		}
		start := base + segment.Start
		end := max(base+segment.End, start)
		res.Segments = append(res.Segments, stt.Segment{Start: start, End: end, Text: text})
		for _, tok := range segment.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.HasPrefix(tok.Text, "<|") {
				continue
			}
			res.Tokens = append(res.Tokens, stt.Token{
				Text:     tok.Text,
				Start:    base + tok.Start,
				Duration: tok.End - tok.Start,
				Timed:    true,
			})
		}
	}
	res.Text = stt.JoinText(res.Segments)
	return res, nil
}
