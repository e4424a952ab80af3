package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely applied without restarting an in-flight
// recording are tracked: the log level, the glossary, and the notes backend.
// Capture, stream, and STT settings require a fresh session and are ignored.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GlossaryChanged is true when the term list or boost differs. The next
	// correction pass and the next session's keyword hints pick it up.
	GlossaryChanged bool

	// NotesChanged is true when any notes generation setting differs. The
	// next generated note picks it up.
	NotesChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GlossaryChanged || d.NotesChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if !slices.Equal(old.Glossary.Terms, new.Glossary.Terms) || old.Glossary.Boost != new.Glossary.Boost {
		d.GlossaryChanged = true
	}

	if notesChanged(old.Notes, new.Notes) {
		d.NotesChanged = true
	}

	return d
}

func notesChanged(a, b NotesConfig) bool {
	if a.Provider != b.Provider || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Temperature != b.Temperature || a.MaxTokens != b.MaxTokens {
		return true
	}
	return !slices.Equal(a.Fallbacks, b.Fallbacks)
}
