// Package mixer sums several capture branches into one interleaved stream.
//
// Each branch (microphone, system audio) pushes blocks in its own native
// format from its own device goroutine. The mixer converts them to the output
// format, applies the branch's [audio.Tag] and emits summed blocks to a
// single tap as soon as every branch has audio for the same span. A branch
// that falls more than the maximum lag behind is padded with silence, so a
// loopback device that goes quiet when nothing plays never stalls the mix.
package mixer

import (
	"sync"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
)

// DefaultMaxLag is how far one branch may run ahead of another before the
// lagging branch is padded with silence.
const DefaultMaxLag = 200 * time.Millisecond

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithMaxLag sets the maximum lag between branches. Non-positive values are
// ignored.
func WithMaxLag(d time.Duration) Option {
	return func(m *Mixer) {
		if d > 0 {
			m.maxLag = d
		}
	}
}

// Mixer is a summing mixer. All exported methods are safe for concurrent
// use; the tap is called with the internal lock held, so emitted blocks are
// strictly ordered.
type Mixer struct {
	format audio.Format
	maxLag time.Duration

	mu       sync.Mutex
	branches []*Branch
	tap      func(audio.Block)
	emitted  int // frames emitted since construction
}

// Branch is one input of a [Mixer].
type Branch struct {
	m    *Mixer
	name string
	tag  audio.Tag
	conv audio.FormatConverter
	buf  []float32 // interleaved, output format, tag applied
}

// New returns a Mixer producing blocks in format.
func New(format audio.Format, opts ...Option) *Mixer {
	m := &Mixer{format: format, maxLag: DefaultMaxLag}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Format returns the output format.
func (m *Mixer) Format() audio.Format { return m.format }

// AddBranch registers an input. Add every branch before audio flows; a
// branch added later starts out lagging and is padded immediately.
func (m *Mixer) AddBranch(name string, tag audio.Tag) *Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &Branch{
		m:    m,
		name: name,
		tag:  tag,
		conv: audio.FormatConverter{Target: m.format},
	}
	m.branches = append(m.branches, b)
	return b
}

// SetTap installs the output callback. A nil tap discards mixed audio.
func (m *Mixer) SetTap(tap func(audio.Block)) {
	m.mu.Lock()
	m.tap = tap
	m.mu.Unlock()
}

// Name returns the branch name.
func (b *Branch) Name() string { return b.name }

// Push adds a block to the branch and emits whatever span every branch now
// covers. The block's samples are copied.
func (b *Branch) Push(blk audio.Block) {
	m := b.m
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := b.conv.Convert(blk)
	n := len(b.buf)
	b.buf = append(b.buf, conv.Samples...)
	b.tag.Apply(b.buf[n:], m.format.Channels)

	m.drainLocked(false)
}

// Flush pads every branch to the longest one and emits everything buffered.
func (m *Mixer) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainLocked(true)
}

// Buffered returns the number of frames held by the fullest branch.
func (m *Mixer) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, most := m.spanLocked()
	return most
}

func (m *Mixer) spanLocked() (least, most int) {
	ch := max(1, m.format.Channels)
	least = -1
	for _, b := range m.branches {
		f := len(b.buf) / ch
		if least < 0 || f < least {
			least = f
		}
		most = max(most, f)
	}
	return max(least, 0), most
}

func (m *Mixer) drainLocked(all bool) {
	if len(m.branches) == 0 {
		return
	}
	ch := max(1, m.format.Channels)
	least, most := m.spanLocked()

	lagFrames := int(m.maxLag * time.Duration(m.format.SampleRate) / time.Second)
	target := least
	if all {
		target = most
	} else if most-least > lagFrames {
		target = most - lagFrames
	}
	if target == 0 {
		return
	}

	out := make([]float32, target*ch)
	for _, b := range m.branches {
		have := min(len(b.buf), len(out))
		for i := range have {
			out[i] += b.buf[i]
		}
		// A short branch is padded: its missing span counts as silence.
		b.buf = b.buf[have:]
		if len(b.buf) == 0 {
			b.buf = nil
		}
	}
	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}

	blk := audio.Block{
		Samples:   out,
		Format:    m.format,
		Timestamp: time.Duration(m.emitted) * time.Second / time.Duration(max(1, m.format.SampleRate)),
	}
	m.emitted += target
	if m.tap != nil {
		m.tap(blk)
	}
}

// Branches returns the registered branches in registration order.
func (m *Mixer) Branches() []*Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Branch(nil), m.branches...)
}
