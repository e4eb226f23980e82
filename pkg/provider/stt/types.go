package stt

import (
	"regexp"
	"strings"
	"time"
)

// Segment is a timestamped piece of transcript.
type Segment struct {
	// Start and End are relative to the recording start. Start <= End.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`

	// Text is never empty after trimming.
	Text string `json:"text"`
}

// Token is a sub-word unit as emitted by BPE/SentencePiece decoders.
type Token struct {
	// Text is the raw token. A leading "▁" or space marks a word boundary.
	Text string

	// Start is relative to the decoded buffer.
	Start time.Duration

	// Duration is the token length, valid when Timed is set. Decoders that
	// emit zero-length tokens report them as Timed with a zero Duration.
	Duration time.Duration
	Timed    bool
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// DefaultTokenDuration is assumed for tokens that are not Timed.
const DefaultTokenDuration = 80 * time.Millisecond

const wordBoundary = "▁"

type wordSpan struct {
	text       string
	start, end time.Duration
}

// BuildSegments merges sub-word tokens into words and words into sentence
// segments. Sentences end at words finishing in '.', '?' or '!'; trailing
// words without a terminator form the last segment. offset is added to
// every timestamp.
func BuildSegments(tokens []Token, offset time.Duration) []Segment {
	words := mergeTokens(tokens, offset)
	if len(words) == 0 {
		return nil
	}

	var (
		segments []Segment
		pending  []wordSpan
	)
	for _, w := range words {
		pending = append(pending, w)
		if endsSentence(w.text) {
			if s, ok := segmentFromWords(pending); ok {
				segments = append(segments, s)
			}
			pending = pending[:0]
		}
	}
	if s, ok := segmentFromWords(pending); ok {
		segments = append(segments, s)
	}
	return segments
}

func mergeTokens(tokens []Token, offset time.Duration) []wordSpan {
	var (
		words []wordSpan
		cur   wordSpan
	)
	for _, tok := range tokens {
		start := offset + tok.Start
		dur := DefaultTokenDuration
		if tok.Timed {
			dur = max(tok.Duration, 0)
		}
		end := start + dur

		newWord := strings.HasPrefix(tok.Text, wordBoundary) || strings.HasPrefix(tok.Text, " ")
		clean := strings.TrimSpace(strings.ReplaceAll(tok.Text, wordBoundary, ""))
		if clean == "" {
			continue
		}

		switch {
		case newWord && cur.text != "":
			words = append(words, cur)
			cur = wordSpan{text: clean, start: start, end: end}
		case cur.text == "":
			cur = wordSpan{text: clean, start: start, end: end}
		default:
			cur.text += clean
			cur.end = end
		}
	}
	if cur.text != "" {
		words = append(words, cur)
	}
	return words
}

func endsSentence(word string) bool {
	switch word[len(word)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

func segmentFromWords(words []wordSpan) (Segment, bool) {
	if len(words) == 0 {
		return Segment{}, false
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.text
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return Segment{}, false
	}
	return Segment{Start: words[0].start, End: words[len(words)-1].end, Text: text}, true
}

// SegmentsFromText returns a single segment spanning offset to
// offset+duration, or nil when text is blank. Recognizers without timing
// output use it so callers always receive at least one segment.
func SegmentsFromText(text string, offset, duration time.Duration) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Segment{{Start: offset, End: offset + max(duration, 0), Text: text}}
}

var specialTag = regexp.MustCompile(`<\|.*?\|>`)

// CleanText strips decoder control tags such as "<|en|>" or "<|0.00|>" and
// surrounding whitespace.
func CleanText(text string) string {
	return strings.TrimSpace(specialTag.ReplaceAllString(text, ""))
}

// JoinText concatenates segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
