package transcript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/recod/internal/transcript/phonetic"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// MaxPromptWords bounds the compiled whisper prompt. Whisper reserves 224
// tokens for the initial prompt; counting whitespace-delimited words keeps the
// prompt within that limit for ordinary vocabulary.
const MaxPromptWords = 224

// Hotword is one biasing entry: a term the recognizer should favour and its
// boost.
type Hotword struct {
	Text   string
	Weight float64
}

// Bias is the compiled form of a rule set for recognizer biasing.
type Bias struct {
	// Prompt is an initial prompt for whisper-style recognizers.
	Prompt string

	// Hotwords holds one entry per distinct-sounding primary pattern.
	Hotwords []Hotword

	// AverageWeight is the mean hotword weight, or 0 without hotwords.
	AverageWeight float64

	// Keywords mirrors Hotwords for recognizers that accept keyword boosts.
	Keywords []stt.KeywordBoost
}

// IsZero reports whether b carries no biasing at all.
func (b Bias) IsZero() bool {
	return b.Prompt == "" && len(b.Hotwords) == 0
}

// HotwordsText renders Hotwords as the line-oriented "text weight" format
// read by transducer hotword loaders.
func (b Bias) HotwordsText() string {
	var sb strings.Builder
	for i, h := range b.Hotwords {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(h.Text)
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(h.Weight, 'f', -1, 64))
	}
	return sb.String()
}

// Apply copies the prompt and keywords into opts.
func (b Bias) Apply(opts stt.Options) stt.Options {
	if b.Prompt != "" {
		opts.Prompt = b.Prompt
	}
	if len(b.Keywords) > 0 {
		opts.Keywords = append([]stt.KeywordBoost(nil), b.Keywords...)
	}
	return opts
}

// CompileBias turns rules into recognizer hints. Only the primary pattern of
// each rule is used; alternates are misrecognitions and would bias the
// recognizer towards the very mistakes the rules correct.
//
// A zero weight counts as 1. Phonetic duplicates among the hotwords are
// collapsed onto the first spelling seen, keeping the highest weight.
func CompileBias(rules []Rule) Bias {
	var (
		matcher = phonetic.New()
		prompt  []string
		b       Bias
		texts   []string
	)
	for _, r := range rules {
		text := strings.TrimSpace(r.Pattern)
		if text == "" {
			continue
		}
		weight := r.Weight
		if weight == 0 {
			weight = 1
		}

		for range max(1, int(weight)) {
			prompt = append(prompt, text)
		}

		if i, _ := matcher.Match(text, texts); i >= 0 {
			b.Hotwords[i].Weight = max(b.Hotwords[i].Weight, weight)
			continue
		}
		texts = append(texts, text)
		b.Hotwords = append(b.Hotwords, Hotword{Text: text, Weight: weight})
	}

	b.Prompt = truncateWords(strings.Join(prompt, ", "), MaxPromptWords)

	var total float64
	for _, h := range b.Hotwords {
		total += h.Weight
		b.Keywords = append(b.Keywords, stt.KeywordBoost{Keyword: h.Text, Boost: h.Weight})
	}
	if len(b.Hotwords) > 0 {
		b.AverageWeight = total / float64(len(b.Hotwords))
	}
	return b
}

// truncateWords keeps the last n whitespace-delimited words of s. The tail
// is kept because later rules carry the user's most recent additions.
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// String summarises the bias for logs.
func (b Bias) String() string {
	return fmt.Sprintf("bias{hotwords=%d avg=%.2f prompt_words=%d}",
		len(b.Hotwords), b.AverageWeight, len(strings.Fields(b.Prompt)))
}
