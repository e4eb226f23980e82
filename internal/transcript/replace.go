package transcript

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Engine is a compiled rule set. Build one with [NewEngine] when the same
// rules are applied repeatedly; [Apply] compiles on every call.
type Engine struct {
	exact []exactPair
	fuzzy [][]string // lowercased patterns per fuzzy rule, in rule order
	repl  []string   // replacement per fuzzy rule
	rules []Rule
}

type exactPair struct {
	re          *regexp.Regexp
	length      int
	replacement string
}

// NewEngine compiles rules. Rules without a usable pattern are skipped.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{rules: slices.Clone(rules)}
	for _, r := range rules {
		patterns := r.Patterns()
		if len(patterns) == 0 {
			continue
		}
		if r.Fuzzy {
			lower := make([]string, len(patterns))
			for i, p := range patterns {
				lower[i] = strings.ToLower(p)
			}
			e.fuzzy = append(e.fuzzy, lower)
			e.repl = append(e.repl, r.Replacement)
			continue
		}
		for _, p := range patterns {
			e.exact = append(e.exact, exactPair{
				re:          regexp.MustCompile("(?i)" + regexp.QuoteMeta(p)),
				length:      utf8.RuneCountInString(p),
				replacement: r.Replacement,
			})
		}
	}
	// Longest first; ties keep flattening order.
	slices.SortStableFunc(e.exact, func(a, b exactPair) int {
		return b.length - a.length
	})
	return e
}

// Rules returns a copy of the rules the engine was built from.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

// Apply rewrites text with the compiled rules.
func (e *Engine) Apply(text string) string {
	if e == nil {
		return text
	}
	for _, p := range e.exact {
		text = p.re.ReplaceAllLiteralString(text, p.replacement)
	}
	if len(e.fuzzy) > 0 {
		text = e.applyFuzzy(text)
	}
	return text
}

// Apply rewrites text with rules. See the package documentation for the
// matching order.
func Apply(text string, rules []Rule) string {
	if len(rules) == 0 {
		return text
	}
	return NewEngine(rules).Apply(text)
}

func (e *Engine) applyFuzzy(text string) string {
	words := splitWhitespace(text)
	for i, word := range words {
		clean := strings.TrimFunc(word, unicode.IsPunct)
		if clean == "" {
			continue
		}
		lower := strings.ToLower(clean)
	rules:
		for r, patterns := range e.fuzzy {
			for _, p := range patterns {
				if matchr.Levenshtein(lower, p) <= FuzzyThreshold(p) {
					words[i] = strings.Replace(word, clean, e.repl[r], 1)
					break rules
				}
			}
		}
	}
	return strings.Join(words, " ")
}

// FuzzyThreshold returns the maximum edit distance accepted for pattern:
// 0 up to three characters, 1 up to five, 2 beyond.
func FuzzyThreshold(pattern string) int {
	switch n := utf8.RuneCountInString(pattern); {
	case n <= 3:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

// splitWhitespace splits at every whitespace rune. Unlike strings.Fields it
// keeps empty fields, so runs of spaces survive the rejoin as spaces.
func splitWhitespace(s string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range s {
		if unicode.IsSpace(r) {
			out = append(out, s[start:i])
			start = i + utf8.RuneLen(r)
		}
	}
	return append(out, s[start:])
}
