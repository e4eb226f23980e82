package config

import (
	"slices"

	"github.com/MrWong99/recod/internal/transcript"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ReplacementsChanged bool
	NewReplacements     []transcript.Rule
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ReplacementsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.EqualFunc(old.Replacements, new.Replacements, ruleEqual) {
		d.ReplacementsChanged = true
		d.NewReplacements = slices.Clone(new.Replacements)
	}

	return d
}

func ruleEqual(a, b transcript.Rule) bool {
	return a.Pattern == b.Pattern &&
		a.Replacement == b.Replacement &&
		a.Weight == b.Weight &&
		a.Fuzzy == b.Fuzzy &&
		slices.Equal(a.Alternates, b.Alternates)
}
