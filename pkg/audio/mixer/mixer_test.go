package mixer_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/audio/mixer"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// collector records every emitted block.
type collector struct {
	mu     sync.Mutex
	blocks []audio.Block
}

func (c *collector) tap(b audio.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, b)
}

func (c *collector) samples() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float32
	for _, b := range c.blocks {
		out = append(out, b.Samples...)
	}
	return out
}

func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func block(v float32, n int, f audio.Format) audio.Block {
	return audio.Block{Samples: constant(v, n*f.Channels), Format: f}
}

func TestMixer_SingleBranchPassThrough(t *testing.T) {
	t.Parallel()

	var c collector
	m := mixer.New(mono16k)
	m.SetTap(c.tap)
	mic := m.AddBranch("mic", audio.Unity)

	mic.Push(block(0.25, 160, mono16k))
	mic.Push(block(0.5, 160, mono16k))

	got := c.samples()
	if len(got) != 320 {
		t.Fatalf("emitted %d samples, want 320", len(got))
	}
	if got[0] != 0.25 || got[319] != 0.5 {
		t.Errorf("samples not passed through: first=%v last=%v", got[0], got[319])
	}
	c.mu.Lock()
	ts := c.blocks[1].Timestamp
	c.mu.Unlock()
	if ts != 10*time.Millisecond {
		t.Errorf("second block timestamp = %v, want 10ms", ts)
	}
}

func TestMixer_SumsAlignedBranches(t *testing.T) {
	t.Parallel()

	var c collector
	m := mixer.New(mono16k)
	m.SetTap(c.tap)
	mic := m.AddBranch("mic", audio.Unity)
	sys := m.AddBranch("system", audio.Tag{Gain: 0.5})

	mic.Push(block(0.2, 160, mono16k))
	if n := len(c.samples()); n != 0 {
		t.Fatalf("emitted %d samples before the second branch caught up", n)
	}

	// System audio arrives at 48 kHz stereo and is converted.
	stereo48k := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32}
	for range 4 {
		sys.Push(block(0.4, 480, stereo48k))
	}

	got := c.samples()
	if len(got) < 150 {
		t.Fatalf("emitted %d samples, want about 160", len(got))
	}
	for i, s := range got {
		if math.Abs(float64(s-0.4)) > 1e-5 {
			t.Fatalf("sample %d = %v, want 0.2 + 0.5*0.4", i, s)
		}
	}
}

func TestMixer_PadsLaggingBranch(t *testing.T) {
	t.Parallel()

	var c collector
	m := mixer.New(mono16k, mixer.WithMaxLag(100*time.Millisecond))
	m.SetTap(c.tap)
	mic := m.AddBranch("mic", audio.Unity)
	m.AddBranch("system", audio.Unity) // silent loopback, never pushes

	// 300 ms on the mic; the system branch may lag by at most 100 ms.
	for range 30 {
		mic.Push(block(0.1, 160, mono16k))
	}
	if got := len(c.samples()); got != 3200 {
		t.Fatalf("emitted %d samples, want 3200 (300ms minus max lag)", got)
	}
	if got := m.Buffered(); got != 1600 {
		t.Errorf("Buffered() = %d, want 1600", got)
	}

	m.Flush()
	if got := len(c.samples()); got != 4800 {
		t.Errorf("after Flush emitted %d samples, want 4800", got)
	}
	if got := m.Buffered(); got != 0 {
		t.Errorf("Buffered() after Flush = %d, want 0", got)
	}
}

func TestMixer_ClipsSum(t *testing.T) {
	t.Parallel()

	var c collector
	m := mixer.New(mono16k)
	m.SetTap(c.tap)
	a := m.AddBranch("a", audio.Unity)
	b := m.AddBranch("b", audio.Unity)
	a.Push(block(0.8, 10, mono16k))
	b.Push(block(0.8, 10, mono16k))

	for i, s := range c.samples() {
		if s != 1 {
			t.Fatalf("sample %d = %v, want clipped to 1", i, s)
		}
	}
}

func TestMixer_NilTapDiscards(t *testing.T) {
	t.Parallel()

	var c collector
	m := mixer.New(mono16k)
	mic := m.AddBranch("mic", audio.Unity)
	mic.Push(block(0.3, 160, mono16k))

	m.SetTap(c.tap)
	mic.Push(block(0.6, 160, mono16k))

	got := c.samples()
	if len(got) != 160 || got[0] != 0.6 {
		t.Errorf("got %d samples starting %v, want only the block pushed after SetTap", len(got), got)
	}
}

func TestMixer_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	m := mixer.New(mono16k)
	m.SetTap(func(audio.Block) {})
	mic := m.AddBranch("mic", audio.Tag{Gain: 0.5})
	in := block(0.8, 16, mono16k)
	mic.Push(in)
	if in.Samples[0] != 0.8 {
		t.Errorf("input sample mutated to %v", in.Samples[0])
	}
}

func TestTag_Pan(t *testing.T) {
	t.Parallel()

	s := []float32{1, 1, 1, 1}
	audio.Tag{Gain: 1, Pan: -1}.Apply(s, 2)
	want := []float32{1, 0, 1, 0}
	for i := range want {
		if s[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, s[i], want[i])
		}
	}

	m := []float32{1, 1}
	audio.Tag{Gain: 0.5, Pan: 1}.Apply(m, 1)
	if m[0] != 0.5 || m[1] != 0.5 {
		t.Errorf("mono ignores pan: got %v", m)
	}
}
