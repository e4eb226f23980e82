package transcript_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/recod/internal/transcript"
)

func TestApply_Exact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		rules []transcript.Rule
		want  string
	}{
		{
			name:  "no rules",
			text:  "leave me alone",
			rules: nil,
			want:  "leave me alone",
		},
		{
			name:  "case insensitive",
			text:  "I deployed to Cube Cuddle and cube cuddle again",
			rules: []transcript.Rule{{Pattern: "cube cuddle", Replacement: "kubectl"}},
			want:  "I deployed to kubectl and kubectl again",
		},
		{
			name: "longest pattern first",
			text: "the catalog has a cat",
			rules: []transcript.Rule{
				{Pattern: "cat", Replacement: "dog"},
				{Pattern: "catalog", Replacement: "index"},
			},
			want: "the index has a dog",
		},
		{
			name: "alternates share the replacement",
			text: "post gress and post grass",
			rules: []transcript.Rule{{
				Pattern:     "post gress",
				Alternates:  []string{"post grass", "  "},
				Replacement: "Postgres",
			}},
			want: "Postgres and Postgres",
		},
		{
			name:  "metacharacters are literal",
			text:  "c++ is not c",
			rules: []transcript.Rule{{Pattern: "c++", Replacement: "C plus plus"}},
			want:  "C plus plus is not c",
		},
		{
			name:  "replacement is literal",
			text:  "price",
			rules: []transcript.Rule{{Pattern: "price", Replacement: "$1"}},
			want:  "$1",
		},
		{
			name:  "empty pattern skipped",
			text:  "nothing changes",
			rules: []transcript.Rule{{Pattern: " ", Replacement: "x"}},
			want:  "nothing changes",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.Apply(tc.text, tc.rules); got != tc.want {
				t.Errorf("Apply(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestApply_Fuzzy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		rules []transcript.Rule
		want  string
	}{
		{
			name:  "short patterns need an exact match",
			text:  "teh cat",
			rules: []transcript.Rule{{Pattern: "the", Replacement: "THE", Fuzzy: true}},
			want:  "teh cat",
		},
		{
			name:  "punctuation survives",
			text:  "helo, world",
			rules: []transcript.Rule{{Pattern: "hello", Replacement: "hello", Fuzzy: true}},
			want:  "hello, world",
		},
		{
			name:  "two edits on long words",
			text:  "ship it to kubernetis now",
			rules: []transcript.Rule{{Pattern: "kubernetes", Replacement: "Kubernetes", Fuzzy: true}},
			want:  "ship it to Kubernetes now",
		},
		{
			name:  "three edits rejected",
			text:  "kobarnetis",
			rules: []transcript.Rule{{Pattern: "kubernetes", Replacement: "Kubernetes", Fuzzy: true}},
			want:  "kobarnetis",
		},
		{
			name: "first rule wins",
			text: "grafna",
			rules: []transcript.Rule{
				{Pattern: "grafana", Replacement: "Grafana", Fuzzy: true},
				{Pattern: "grafnb", Replacement: "Other", Fuzzy: true},
			},
			want: "Grafana",
		},
		{
			name:  "newlines become spaces",
			text:  "one\ntwo  three",
			rules: []transcript.Rule{{Pattern: "threee", Replacement: "3", Fuzzy: true}},
			want:  "one two  3",
		},
		{
			name: "exact runs before fuzzy",
			text: "cube cuddle",
			rules: []transcript.Rule{
				{Pattern: "cube cuddle", Replacement: "kubectll"},
				{Pattern: "kubectl", Replacement: "kubectl", Fuzzy: true},
			},
			want: "kubectl",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.Apply(tc.text, tc.rules); got != tc.want {
				t.Errorf("Apply(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestFuzzyThreshold(t *testing.T) {
	t.Parallel()

	tests := map[string]int{"the": 0, "abcd": 1, "abcde": 1, "abcdef": 2, "größe": 1}
	for p, want := range tests {
		if got := transcript.FuzzyThreshold(p); got != want {
			t.Errorf("FuzzyThreshold(%q) = %d, want %d", p, got, want)
		}
	}
}

func TestEngine_ConcurrentApply(t *testing.T) {
	t.Parallel()

	e := transcript.NewEngine([]transcript.Rule{
		{Pattern: "foo", Replacement: "bar"},
		{Pattern: "quux", Replacement: "Quux", Fuzzy: true},
	})
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if got := e.Apply("foo qux"); got != "bar Quux" {
				t.Errorf("Apply = %q, want %q", got, "bar Quux")
			}
		})
	}
	wg.Wait()
}

func TestEngine_NilIsIdentity(t *testing.T) {
	t.Parallel()

	var e *transcript.Engine
	if got := e.Apply("unchanged"); got != "unchanged" {
		t.Errorf("nil Engine.Apply = %q", got)
	}
}

func TestValidateRules(t *testing.T) {
	t.Parallel()

	err := transcript.ValidateRules([]transcript.Rule{
		{Pattern: "ok", Replacement: "fine"},
		{Pattern: "", Alternates: []string{" "}},
		{Pattern: "x", Weight: -1},
	})
	if err == nil {
		t.Fatal("ValidateRules: want error")
	}
	if err := transcript.ValidateRules([]transcript.Rule{{Alternates: []string{"alt"}}}); err != nil {
		t.Errorf("rule with only an alternate: %v", err)
	}
}
