package audio

// Unity is the Tag of a branch mixed at full gain in the centre.
var Unity = Tag{Gain: 1}

// Tag labels a capture branch with the gain and stereo position it is mixed
// at. The zero value mutes the branch; use [Unity] for a plain pass-through.
type Tag struct {
	// Gain is a linear amplitude factor.
	Gain float32

	// Pan places the branch between -1 (left) and 1 (right). It only
	// applies to stereo output.
	Pan float32
}

// Apply scales interleaved samples in place.
func (t Tag) Apply(samples []float32, channels int) {
	if t.Gain == 1 && (t.Pan == 0 || channels != 2) {
		return
	}
	if channels != 2 {
		for i := range samples {
			samples[i] *= t.Gain
		}
		return
	}
	pan := max(-1, min(1, t.Pan))
	left := t.Gain * min(1, 1-pan)
	right := t.Gain * min(1, 1+pan)
	for i := 0; i+1 < len(samples); i += 2 {
		samples[i] *= left
		samples[i+1] *= right
	}
}
