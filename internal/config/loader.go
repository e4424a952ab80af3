package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.STT.Provider)
	validateProviderName("llm", cfg.Notes.Provider)

	if cfg.STT.Provider == "" {
		errs = append(errs, errors.New("stt.provider is required"))
	}
	if cfg.STT.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("stt.handshake_timeout must not be negative"))
	}
	if cfg.STT.FlushGrace < 0 {
		errs = append(errs, errors.New("stt.flush_grace must not be negative"))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range; valid values: 1, 2", cfg.Capture.Channels))
	}

	if cfg.Stream.WireRate < 0 {
		errs = append(errs, fmt.Errorf("stream.wire_rate %d must not be negative", cfg.Stream.WireRate))
	}
	if cfg.Stream.Quantum < 0 {
		errs = append(errs, errors.New("stream.quantum must not be negative"))
	}
	if cfg.Stream.PollInterval < 0 {
		errs = append(errs, errors.New("stream.poll_interval must not be negative"))
	}
	if cfg.Stream.Quantum > 0 && cfg.Stream.PollInterval > cfg.Stream.Quantum {
		errs = append(errs, fmt.Errorf("stream.poll_interval %v must not exceed stream.quantum %v",
			cfg.Stream.PollInterval.Std(), cfg.Stream.Quantum.Std()))
	}
	if cfg.Stream.RingCapacity < 0 {
		errs = append(errs, errors.New("stream.ring_capacity must not be negative"))
	}
	if cfg.Stream.RingPolicy != "" && !cfg.Stream.RingPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("stream.ring_policy %q is invalid; valid values: drop_newest, drop_oldest", cfg.Stream.RingPolicy))
	}
	if cfg.Stream.StopTimeout < 0 {
		errs = append(errs, errors.New("stream.stop_timeout must not be negative"))
	}

	for i, term := range cfg.Glossary.Terms {
		if term == "" {
			errs = append(errs, fmt.Errorf("glossary.terms[%d] is empty", i))
		}
	}
	if cfg.Glossary.Boost < 0 {
		errs = append(errs, errors.New("glossary.boost must not be negative"))
	}

	if cfg.Notes.Provider != "" && cfg.Notes.Model == "" {
		errs = append(errs, errors.New("notes.model is required when notes.provider is set"))
	}
	if cfg.Notes.Temperature < 0 || cfg.Notes.Temperature > 2 {
		errs = append(errs, fmt.Errorf("notes.temperature %.2f is out of range [0, 2]", cfg.Notes.Temperature))
	}
	if cfg.Notes.MaxTokens < 0 {
		errs = append(errs, errors.New("notes.max_tokens must not be negative"))
	}
	for i, fb := range cfg.Notes.Fallbacks {
		if fb.Provider == "" || fb.Model == "" {
			errs = append(errs, fmt.Errorf("notes.fallbacks[%d] needs both provider and model", i))
			continue
		}
		validateProviderName("llm", fb.Provider)
	}
	if len(cfg.Notes.Fallbacks) > 0 && cfg.Notes.Provider == "" {
		errs = append(errs, errors.New("notes.fallbacks requires notes.provider"))
	}

	// Availability warnings — these configurations work, just with reduced
	// functionality.
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; finished sessions will not be persisted")
	}
	if cfg.Notes.Provider == "" {
		slog.Warn("notes.provider is empty; meeting notes generation is disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
