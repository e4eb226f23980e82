// Package vadgate turns per-window speech probabilities into discrete speech
// segments.
//
// A Gate consumes fixed-size windows of mono 16 kHz audio, asks a
// [vad.SessionHandle] for a speech probability per window and runs a
// hysteresis state machine over the results:
//
//	silence ──speech──▶ onset ──≥MinSpeech──▶ speech ──silence──▶ silence-pending
//	   ▲                  │                    ▲                       │
//	   └────silence───────┘                    └────────speech─────────┤
//	   ▲                                                               │
//	   └───────────────── ≥MinSilence: emit segment ───────────────────┘
//
// Completed segments are queued in FIFO order. Speech running longer than
// MaxSpeech is split without waiting for silence.
//
// A Gate is not safe for concurrent use; the owning coordinator serialises
// access.
package vadgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/recod/pkg/provider/vad"
)

// Default gate parameters.
const (
	DefaultSampleRate = 16000
	DefaultWindow     = 512
	DefaultThreshold  = 0.5
	DefaultMinSpeech  = 250 * time.Millisecond
	DefaultMinSilence = 500 * time.Millisecond
	DefaultMaxSpeech  = 30 * time.Second
)

// Config controls the gate's hysteresis. Zero fields take their defaults.
type Config struct {
	SampleRate int
	Window     int
	Threshold  float64
	MinSpeech  time.Duration
	MinSilence time.Duration
	MaxSpeech  time.Duration
}

// WithDefaults returns c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.MinSilence == 0 {
		c.MinSilence = DefaultMinSilence
	}
	if c.MaxSpeech == 0 {
		c.MaxSpeech = DefaultMaxSpeech
	}
	return c
}

// Validate reports configuration errors after defaults are applied.
func (c Config) Validate() error {
	c = c.WithDefaults()
	var errs []error
	if c.SampleRate < 0 || c.Window < 0 {
		errs = append(errs, errors.New("vadgate: sample rate and window must be positive"))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vadgate: threshold %.2f out of range [0, 1]", c.Threshold))
	}
	if c.MinSpeech < 0 || c.MinSilence < 0 {
		errs = append(errs, errors.New("vadgate: durations must not be negative"))
	}
	if c.MaxSpeech <= c.MinSpeech {
		errs = append(errs, fmt.Errorf("vadgate: max speech %s must exceed min speech %s", c.MaxSpeech, c.MinSpeech))
	}
	return errors.Join(errs...)
}

// Segment is one continuous span of speech.
type Segment struct {
	// Start is the absolute index of the first sample since the gate was
	// created or last reset.
	Start int

	// Samples holds the speech audio. Never empty.
	Samples []float32

	// SampleRate is the rate Samples was captured at.
	SampleRate int
}

// Offset returns the segment's start time relative to the stream start.
func (s Segment) Offset() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Start) * time.Second / time.Duration(s.SampleRate)
}

// Duration returns the length of the segment's audio.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

type state int

const (
	stateSilence state = iota
	stateOnset
	stateSpeech
	stateSilencePending
)

func (s state) String() string {
	switch s {
	case stateSilence:
		return "silence"
	case stateOnset:
		return "onset"
	case stateSpeech:
		return "speech"
	case stateSilencePending:
		return "silence-pending"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Gate is the hysteresis segmenter. Create one with [New].
type Gate struct {
	cfg        Config
	classifier vad.SessionHandle

	minSpeechWindows  int
	minSilenceWindows int
	maxSpeechSamples  int

	state     state
	processed int // samples consumed since reset

	start      int
	speech     []float32
	tail       []float32 // trailing silence not yet committed to speech
	speechRun  int
	silenceRun int
	queue      []Segment
}

// New creates a Gate that classifies windows with classifier.
func New(classifier vad.SessionHandle, cfg Config) (*Gate, error) {
	if classifier == nil {
		return nil, errors.New("vadgate: classifier must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	return &Gate{
		cfg:               cfg,
		classifier:        classifier,
		minSpeechWindows:  windowsFor(cfg.MinSpeech, cfg),
		minSilenceWindows: windowsFor(cfg.MinSilence, cfg),
		maxSpeechSamples:  int(cfg.MaxSpeech * time.Duration(cfg.SampleRate) / time.Second),
	}, nil
}

// windowsFor returns the number of whole windows needed to cover d, at least one.
func windowsFor(d time.Duration, cfg Config) int {
	samples := int(d * time.Duration(cfg.SampleRate) / time.Second)
	n := (samples + cfg.Window - 1) / cfg.Window
	return max(n, 1)
}

// Window returns the window size in samples.
func (g *Gate) Window() int { return g.cfg.Window }

// SampleRate returns the configured sample rate.
func (g *Gate) SampleRate() int { return g.cfg.SampleRate }

// Feed classifies as many whole windows of samples as available and returns
// how many samples were consumed. The caller keeps the unconsumed remainder
// and prepends it to the next Feed. A classifier error stops consumption at
// the failing window so it is retried on the next call.
func (g *Gate) Feed(samples []float32) (int, error) {
	w := g.cfg.Window
	consumed := 0
	for consumed+w <= len(samples) {
		window := samples[consumed : consumed+w]
		p, err := g.classifier.ProcessWindow(window)
		if err != nil {
			return consumed, fmt.Errorf("vadgate: classify window at %d: %w", g.processed, err)
		}
		g.step(window, p >= g.cfg.Threshold)
		g.processed += w
		consumed += w
	}
	return consumed, nil
}

func (g *Gate) step(window []float32, voiced bool) {
	switch g.state {
	case stateSilence:
		if voiced {
			g.start = g.processed
			g.speech = append(g.speech[:0], window...)
			g.speechRun = 1
			g.state = stateOnset
			if g.speechRun >= g.minSpeechWindows {
				g.state = stateSpeech
			}
		}

	case stateOnset:
		if !voiced {
			g.speech = g.speech[:0]
			g.speechRun = 0
			g.state = stateSilence
			return
		}
		g.speech = append(g.speech, window...)
		g.speechRun++
		if g.speechRun >= g.minSpeechWindows {
			g.state = stateSpeech
		}
		g.splitIfTooLong()

	case stateSpeech:
		if voiced {
			g.speech = append(g.speech, window...)
			g.splitIfTooLong()
			return
		}
		g.tail = append(g.tail[:0], window...)
		g.silenceRun = 1
		g.state = stateSilencePending
		g.endIfSilent()

	case stateSilencePending:
		if voiced {
			g.speech = append(g.speech, g.tail...)
			g.speech = append(g.speech, window...)
			g.tail = g.tail[:0]
			g.silenceRun = 0
			g.state = stateSpeech
			g.splitIfTooLong()
			return
		}
		g.tail = append(g.tail, window...)
		g.silenceRun++
		g.endIfSilent()
	}
}

func (g *Gate) endIfSilent() {
	if g.silenceRun < g.minSilenceWindows {
		return
	}
	g.emit()
	g.state = stateSilence
}

// splitIfTooLong force-emits speech that reached MaxSpeech and keeps the
// gate in the speech state so the next window opens a new segment.
func (g *Gate) splitIfTooLong() {
	if len(g.speech) < g.maxSpeechSamples {
		return
	}
	g.emit()
	g.start = g.processed + g.cfg.Window
	g.state = stateSpeech
}

func (g *Gate) emit() {
	if len(g.speech) > 0 {
		samples := make([]float32, len(g.speech))
		copy(samples, g.speech)
		g.queue = append(g.queue, Segment{
			Start:      g.start,
			Samples:    samples,
			SampleRate: g.cfg.SampleRate,
		})
	}
	g.speech = g.speech[:0]
	g.tail = g.tail[:0]
	g.speechRun = 0
	g.silenceRun = 0
}

// Flush emits any speech currently being accumulated as a final segment,
// whether or not it met the silence or minimum speech durations. Trailing
// silence is not included.
func (g *Gate) Flush() {
	if g.state != stateSilence {
		g.emit()
	}
	g.state = stateSilence
}

// Pop removes and returns the oldest completed segment.
func (g *Gate) Pop() (Segment, bool) {
	if len(g.queue) == 0 {
		return Segment{}, false
	}
	s := g.queue[0]
	g.queue[0] = Segment{}
	g.queue = g.queue[1:]
	return s, true
}

// IsEmpty reports whether no completed segment is queued.
func (g *Gate) IsEmpty() bool { return len(g.queue) == 0 }

// Len returns the number of queued segments.
func (g *Gate) Len() int { return len(g.queue) }

// InSpeech reports whether the gate is inside a speech span.
func (g *Gate) InSpeech() bool {
	return g.state == stateSpeech || g.state == stateSilencePending
}

// Processed returns the number of samples classified since the last reset.
func (g *Gate) Processed() int { return g.processed }

// Reset drops all state, including queued segments, and resets the
// classifier session.
func (g *Gate) Reset() {
	g.classifier.Reset()
	g.state = stateSilence
	g.processed = 0
	g.start = 0
	g.speech = nil
	g.tail = nil
	g.speechRun = 0
	g.silenceRun = 0
	g.queue = nil
}
