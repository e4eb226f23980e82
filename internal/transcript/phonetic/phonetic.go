// Package phonetic decides whether two dictionary terms sound alike, using
// Double Metaphone codes to find candidates and Jaro-Winkler similarity to
// accept them.
//
// Two terms sound alike when any Double Metaphone code of any of their words
// overlaps and the best Jaro-Winkler score across the comparison strategies
// reaches the threshold. Both conditions are required: metaphone alone is too
// coarse ("cat" and "kit" share the code KT) and string similarity alone
// misses respellings such as "Kubernetes" and "Koobernetes".
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultThreshold = 0.85

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score for two phonetically
// overlapping terms to be considered the same. Default: 0.85.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: defaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns the similarity of a and b in [0, 1], or 0 when their words
// share no phonetic code.
func (m *Matcher) Score(a, b string) float64 {
	aLower := strings.ToLower(strings.TrimSpace(a))
	bLower := strings.ToLower(strings.TrimSpace(b))
	if aLower == "" || bLower == "" {
		return 0
	}
	if aLower == bLower {
		return 1
	}
	aTokens := strings.Fields(aLower)
	bTokens := strings.Fields(bLower)
	if !codesOverlap(codesForTokens(aTokens), codesForTokens(bTokens)) {
		return 0
	}
	return bestJWScore(aTokens, bTokens, aLower, bLower)
}

// SoundsAlike reports whether a and b are phonetic duplicates.
func (m *Matcher) SoundsAlike(a, b string) bool {
	return m.Score(a, b) >= m.threshold
}

// Match returns the index of the candidate that sounds most like term, or -1
// when none reaches the threshold.
func (m *Matcher) Match(term string, candidates []string) (index int, score float64) {
	index = -1
	for i, c := range candidates {
		if s := m.Score(term, c); s >= m.threshold && s > score {
			index, score = i, s
		}
	}
	return index, score
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore takes the highest Jaro-Winkler similarity over the full
// strings, the space-stripped strings and, for multi-word terms with equal
// word counts, the mean of the positional word scores.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		concatA := strings.Join(aTokens, "")
		concatB := strings.Join(bTokens, "")
		score = max(score, matchr.JaroWinkler(concatA, concatB, false))
	}

	if len(aTokens) > 1 && len(aTokens) == len(bTokens) {
		var sum float64
		for i := range aTokens {
			sum += matchr.JaroWinkler(aTokens[i], bTokens[i], false)
		}
		score = max(score, sum/float64(len(aTokens)))
	}
	return score
}
