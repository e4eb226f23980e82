package audio

import "time"

// Block is one buffer of audio delivered by a capture device. Blocks are the
// atomic unit flowing from the device callback through the capture graph:
// written to the sink as-is, then converted for the recognizers.
type Block struct {
	// Samples holds interleaved float32 PCM normalised to [-1, 1].
	Samples []float32

	// Format is the layout of Samples. For device blocks this is the native
	// hardware format.
	Format Format

	// Timestamp marks when this block was captured, relative to stream start.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel) in b.
func (b Block) Frames() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the playback length of b.
func (b Block) Duration() time.Duration {
	if b.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Format.SampleRate)
}
