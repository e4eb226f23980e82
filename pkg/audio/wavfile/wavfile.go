// Package wavfile reads recordings and replays WAV files as capture devices.
//
// [Read] and [Probe] load recordings written by the capture sink for batch
// transcription and for reconciling the recordings directory. [Platform]
// implements [audio.Platform] by streaming files in fixed blocks, which lets
// the whole capture and transcription pipeline run without audio hardware.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/recod/pkg/audio"
)

// ErrInvalidFile is returned for files that are not PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid WAV file")

// Info describes a WAV file without its samples.
type Info struct {
	Format   audio.Format
	Duration time.Duration
}

// Probe reads the header of the WAV file at path.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("wavfile: open: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	d, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("wavfile: duration: %w", err)
	}
	return Info{
		Format: audio.Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
		Duration: d,
	}, nil
}

// Read decodes the WAV file at path into interleaved float32 samples.
func Read(path string) ([]float32, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: open: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, audio.Format{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: decode: %w", err)
	}
	format := audio.Format{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	return audio.IntToFloat(buf.Data, format.BitDepth), format, nil
}

// ReadRecognizer decodes path and converts it to mono 16 kHz.
func ReadRecognizer(path string) ([]float32, error) {
	samples, format, err := Read(path)
	if err != nil {
		return nil, err
	}
	return audio.ToRecognizer(samples, format), nil
}

// readyAttempts bounds [WaitReady]; the back-off grows linearly.
const readyAttempts = 12

// WaitReady blocks until path exists with a non-empty, valid WAV header.
// A freshly stopped sink may still be flushing when the recorder picks the
// file up. It retries with a linearly growing delay (100 ms, 200 ms, ...)
// and gives up after twelve attempts or when ctx is done.
func WaitReady(ctx context.Context, path string) error {
	var lastErr error
	for i := range readyAttempts {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			lastErr = err
		case info.Size() == 0:
			lastErr = errors.New("file is empty")
		default:
			_, lastErr = Probe(path)
			if lastErr == nil {
				return nil
			}
		}
		t := time.NewTimer(time.Duration(i+1) * 100 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("wavfile: %s not ready: %w", path, lastErr)
}
