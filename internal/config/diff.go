package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: anything else
// (listen address, providers, call log DSN) requires a restart.
type ConfigDiff struct {
	// LogLevelChanged is applied immediately to the running process.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged and UtteranceChanged apply to sessions created after the
	// change; calls already in progress keep their detector state.
	VADChanged       bool
	UtteranceChanged bool

	// AssistantChanged covers persona, reply limits, and voice; applies to
	// sessions created after the change.
	AssistantChanged bool

	// LexiconChanged swaps the transcript corrector for all sessions.
	LexiconChanged bool
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VADChanged = old.VAD != new.VAD
	d.UtteranceChanged = old.Utterance != new.Utterance
	d.AssistantChanged = old.Assistant != new.Assistant

	if !slices.Equal(old.Lexicon.Terms, new.Lexicon.Terms) ||
		old.Lexicon.PhoneticThreshold != new.Lexicon.PhoneticThreshold ||
		old.Lexicon.FuzzyThreshold != new.Lexicon.FuzzyThreshold {
		d.LexiconChanged = true
	}

	return d
}
