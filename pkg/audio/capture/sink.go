package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/recod/pkg/audio"
)

// FilenameLayout is the time layout of recording file names.
const FilenameLayout = "20060102-150405"

// Filename returns the recording file name for a capture started at t.
func Filename(t time.Time) string {
	return "recording-" + t.Format(FilenameLayout) + ".wav"
}

// Sink writes captured blocks to a PCM WAV file in the device's native
// sample rate and channel count.
type Sink struct {
	path   string
	format audio.Format

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	frames int
	err    error
	closed bool
}

// sinkBitDepth maps a device bit depth onto one the WAV encoder writes as
// integer PCM. Float devices report 32 and are stored as 32-bit integers.
func sinkBitDepth(depth int) int {
	switch depth {
	case 8, 16, 24, 32:
		return depth
	default:
		return 16
	}
}

// NewSink creates path and prepares it for blocks in format.
func NewSink(path string, format audio.Format) (*Sink, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("capture: sink format %s is invalid", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("capture: create recordings dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create sink: %w", err)
	}
	format.BitDepth = sinkBitDepth(format.BitDepth)
	return &Sink{
		path:   path,
		format: format,
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1),
	}, nil
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string { return s.path }

// Format returns the stored format, including the effective bit depth.
func (s *Sink) Format() audio.Format { return s.format }

// Write appends a block, which must match the sink's rate and channel count.
// The first write error is kept and returned by every later Write and by
// Close.
func (s *Sink) Write(b audio.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("capture: write to closed sink %s", s.path)
	}
	if s.err != nil {
		return s.err
	}
	if b.Format.SampleRate != s.format.SampleRate || b.Format.Channels != s.format.Channels {
		return fmt.Errorf("capture: sink expects %s, got %s", s.format, b.Format)
	}
	if len(b.Samples) == 0 {
		return nil
	}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: s.format.Channels,
			SampleRate:  s.format.SampleRate,
		},
		Data:           audio.FloatToInt(b.Samples, s.format.BitDepth),
		SourceBitDepth: s.format.BitDepth,
	}
	if err := s.enc.Write(buf); err != nil {
		s.err = fmt.Errorf("capture: write sink: %w", err)
		return s.err
	}
	s.frames += b.Frames()
	return nil
}

// Duration returns the audio length written so far.
func (s *Sink) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.frames) * time.Second / time.Duration(s.format.SampleRate)
}

// Close finalises the WAV header and closes the file. It is safe to call
// Close more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if s.err != nil {
		return s.err
	}
	if encErr != nil {
		return fmt.Errorf("capture: finalise sink: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("capture: close sink: %w", fileErr)
	}
	return nil
}
