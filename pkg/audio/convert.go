package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// RecognizerFormat is the mono 16 kHz layout every recognizer consumes.
var RecognizerFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 32}

// Format describes the sample rate, channel count and storage bit depth of
// an audio stream. BitDepth only matters when samples are written to a file;
// in memory every stream is float32.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// String returns a human-readable form, e.g. "48000Hz stereo 16bit".
func (f Format) String() string {
	s := formatString(f.SampleRate, f.Channels)
	if f.BitDepth > 0 {
		s += fmt.Sprintf(" %dbit", f.BitDepth)
	}
	return s
}

// FormatConverter converts Blocks to a target format. It logs a warning on
// the first format mismatch and drops misaligned blocks.
// Create one per stream: the embedded resampler carries fractional position
// across blocks, so it is not safe for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once

	resampler *Resampler
}

// Convert converts a block to the target format. If the source format already
// matches the target, the block is returned unchanged (zero allocation).
// Channel conversion runs first when the target is mono so that only one
// channel is resampled.
func (c *FormatConverter) Convert(b Block) Block {
	if b.Format.Channels <= 0 || len(b.Samples)%b.Format.Channels != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: sample count not a multiple of channels, dropping block",
				"samples", len(b.Samples),
				"sampleRate", b.Format.SampleRate,
				"channels", b.Format.Channels,
			)
		})
		return Block{Format: c.Target, Timestamp: b.Timestamp}
	}

	if b.Format.SampleRate == c.Target.SampleRate && b.Format.Channels == c.Target.Channels {
		return b
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", formatString(b.Format.SampleRate, b.Format.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := b.Samples
	channels := b.Format.Channels

	if c.Target.Channels == 1 && channels > 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}

	if b.Format.SampleRate != c.Target.SampleRate {
		if c.resampler == nil || !c.resampler.matches(b.Format.SampleRate, c.Target.SampleRate, channels) {
			c.resampler = NewResampler(b.Format.SampleRate, c.Target.SampleRate, channels)
		}
		pcm = c.resampler.Process(pcm)
	}

	if channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}

	return Block{
		Samples:   pcm,
		Format:    Format{SampleRate: c.Target.SampleRate, Channels: channels, BitDepth: c.Target.BitDepth},
		Timestamp: b.Timestamp,
	}
}

// Downmix averages every interleaved frame of a multi-channel buffer into a
// single mono sample. channels <= 1 returns the input unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Resampler converts interleaved float32 audio between sample rates using
// linear interpolation. Unlike a one-shot resample it keeps the fractional
// read position and the last input frame between calls, so a stream fed in
// arbitrary block sizes produces the same output length as one big buffer.
type Resampler struct {
	src, dst int
	channels int
	step     float64
	pos      float64
	prev     []float32
}

// NewResampler creates a Resampler from srcRate to dstRate for the given
// number of interleaved channels.
func NewResampler(srcRate, dstRate, channels int) *Resampler {
	if channels <= 0 {
		channels = 1
	}
	return &Resampler{
		src:      srcRate,
		dst:      dstRate,
		channels: channels,
		step:     float64(srcRate) / float64(dstRate),
		prev:     make([]float32, channels),
	}
}

func (r *Resampler) matches(src, dst, channels int) bool {
	return r.src == src && r.dst == dst && r.channels == channels
}

// Process resamples the next chunk of the stream. Output for the final input
// frame is produced once the following chunk arrives.
func (r *Resampler) Process(in []float32) []float32 {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst {
		return in
	}
	ch := r.channels
	frames := len(in) / ch
	if frames == 0 {
		return nil
	}

	out := make([]float32, 0, (int(float64(frames)/r.step)+1)*ch)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= frames {
			break
		}
		frac := float32(r.pos - float64(i))
		for c := range ch {
			var s0 float32
			if i < 0 {
				s0 = r.prev[c]
			} else {
				s0 = in[i*ch+c]
			}
			s1 := in[(i+1)*ch+c]
			out = append(out, s0+(s1-s0)*frac)
		}
		r.pos += r.step
	}
	r.pos -= float64(frames)
	copy(r.prev, in[(frames-1)*ch:frames*ch])
	return out
}

// Resample is the one-shot form of [Resampler] for a complete buffer.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	return NewResampler(srcRate, dstRate, channels).Process(samples)
}

// ToRecognizer converts a complete interleaved buffer in format f to mono
// 16 kHz float32.
func ToRecognizer(samples []float32, f Format) []float32 {
	mono := Downmix(samples, f.Channels)
	return Resample(mono, 1, f.SampleRate, RecognizerFormat.SampleRate)
}

// FloatToInt scales normalised float samples to signed integers of the given
// bit depth, clamping out-of-range input.
func FloatToInt(samples []float32, bitDepth int) []int {
	maxVal := float64(int64(1)<<(bitDepth-1) - 1)
	out := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int(math.Round(v * maxVal))
	}
	return out
}

// IntToFloat is the inverse of [FloatToInt].
func IntToFloat(data []int, bitDepth int) []float32 {
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / scale
	}
	return out
}

// PCM16 encodes float samples as 16-bit signed little-endian PCM.
func PCM16(samples []float32) []byte {
	ints := FloatToInt(samples, 16)
	out := make([]byte, len(ints)*2)
	for i, v := range ints {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// silenceFloorDB is the level reported for digital silence.
const silenceFloorDB = -160.0

// LevelDB returns the RMS level of samples in dBFS.
func LevelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return silenceFloorDB
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return silenceFloorDB
	}
	return math.Max(20*math.Log10(rms), silenceFloorDB)
}

// NormalizeLevel maps a dBFS value in [-60, 0] onto [0, 1] for metering.
func NormalizeLevel(db float64) float32 {
	const floor = -60.0
	switch {
	case db <= floor:
		return 0
	case db >= 0:
		return 1
	}
	return float32((db - floor) / -floor)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
