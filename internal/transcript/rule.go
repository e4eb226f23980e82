// Package transcript post-processes recognizer output with user-defined
// replacement rules, and compiles the same rules into biasing hints for the
// recognizers.
//
// Speech recognizers regularly mishear domain vocabulary: product names,
// people, jargon. A [Rule] maps one or more misheard forms to the intended
// spelling. [Apply] rewrites text in two passes:
//
//  1. Exact pass: every pattern of every non-fuzzy rule is replaced
//     case-insensitively, longest pattern first, so "catalog" is considered
//     before "cat" can clobber it.
//  2. Fuzzy pass: each whitespace-separated token is compared against the
//     patterns of fuzzy rules by Levenshtein distance with a length-scaled
//     threshold. The first rule that accepts a token wins.
//
// The output depends only on the text and the rule set; [Engine] values are
// immutable and safe for concurrent use.
package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// Rule is a single user-defined replacement.
type Rule struct {
	// Pattern is the primary form to look for.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Alternates are further incorrect forms mapped to the same replacement.
	Alternates []string `yaml:"alternates,omitempty" json:"alternates,omitempty"`

	// Replacement is the text substituted for any matching pattern.
	Replacement string `yaml:"replacement" json:"replacement"`

	// Weight biases recognizers towards Pattern. It does not affect Apply.
	Weight float64 `yaml:"weight,omitempty" json:"weight,omitempty"`

	// Fuzzy enables edit-distance matching instead of literal matching.
	Fuzzy bool `yaml:"fuzzy,omitempty" json:"fuzzy,omitempty"`
}

// Patterns returns the primary pattern followed by the alternates, trimmed,
// with empty entries dropped.
func (r Rule) Patterns() []string {
	out := make([]string, 0, 1+len(r.Alternates))
	for _, p := range append([]string{r.Pattern}, r.Alternates...) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports whether the rule has at least one usable pattern.
func (r Rule) Validate() error {
	if len(r.Patterns()) == 0 {
		return errors.New("transcript: rule has no non-empty pattern")
	}
	if r.Weight < 0 {
		return fmt.Errorf("transcript: rule %q has negative weight", r.Pattern)
	}
	return nil
}

// ValidateRules validates every rule and joins the errors, prefixing each
// with the rule index.
func ValidateRules(rules []Rule) error {
	var errs []error
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
