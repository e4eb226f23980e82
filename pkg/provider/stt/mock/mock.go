// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to script decode results and to inspect which sample
// buffers and options the caller submitted.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Results: []stt.Result{{Text: "hello"}},
//	}
//	res, _ := rec.Transcribe(ctx, samples, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/recod/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe or
// Recognizer.TranscribeFile.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe. Nil for file calls.
	Samples []float32
	// Path is the file passed to TranscribeFile. Empty for sample calls.
	Path string
	// Opts is the Options value passed to the call.
	Opts stt.Options
}

// Recognizer is a mock implementation of stt.Recognizer and stt.FileRecognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, Result is
	// returned for every further call.
	Results []stt.Result

	// Result is the fallback when Results is empty.
	Result stt.Result

	// Errs are returned in order, one per call, before Err is consulted.
	// A nil entry means "no error for this call".
	Errs []error

	// Err, if non-nil, is returned by every call once Errs is exhausted.
	Err error

	// Func, if set, computes the result instead of the scripted values.
	Func func(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error)

	// Block, if non-nil, is received from before returning, letting a test
	// hold a call in flight.
	Block chan struct{}

	// Calls records every call in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	return r.next(ctx, TranscribeCall{Samples: cp, Opts: opts})
}

// TranscribeFile records the call and returns the next scripted result.
func (r *Recognizer) TranscribeFile(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	return r.next(ctx, TranscribeCall{Path: path, Opts: opts})
}

func (r *Recognizer) next(ctx context.Context, call TranscribeCall) (stt.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	block := r.Block
	fn := r.Func
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, call.Samples, call.Opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if len(r.Errs) > 0 {
		err = r.Errs[0]
		r.Errs = r.Errs[1:]
	} else {
		err = r.Err
	}
	if err != nil {
		return stt.Result{}, err
	}
	if len(r.Results) > 0 {
		res := r.Results[0]
		r.Results = r.Results[1:]
		return res, nil
	}
	return r.Result, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Call returns a copy of the i-th recorded call. Thread-safe.
func (r *Recognizer) Call(i int) TranscribeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[i]
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

// Ensure Recognizer implements the stt interfaces at compile time.
var (
	_ stt.Recognizer     = (*Recognizer)(nil)
	_ stt.FileRecognizer = (*Recognizer)(nil)
)
