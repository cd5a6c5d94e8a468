package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given explicitly.
const DefaultPath = "spibot.yaml"

// EnvAPIURL overrides api.base_url.
const EnvAPIURL = "SPIBOT_API_URL"

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

// LoadOrDefault is [Load] for the implicit default path: a missing file
// yields [Default] instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r over the built-in defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads envFile (typically ".env") into the process environment
// without overriding variables that are already set, then applies the
// environment overrides to cfg. A missing envFile is not an error.
func LoadEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", envFile, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	return Validate(cfg)
}

// ApplyEnv applies environment overrides read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		cfg.API.BaseURL = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// API
	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute http(s) URL", cfg.API.BaseURL))
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %s must not be negative", cfg.API.Timeout))
	}
	if cfg.API.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("api.circuit_breaker.max_failures %d must not be negative", cfg.API.CircuitBreaker.MaxFailures))
	}
	if cfg.API.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("api.circuit_breaker.reset_timeout %s must not be negative", cfg.API.CircuitBreaker.ResetTimeout))
	}

	// Conversation
	if !slices.Contains(Languages, cfg.Conversation.Language) {
		errs = append(errs, fmt.Errorf("conversation.language %q is invalid; valid values: en, hi", cfg.Conversation.Language))
	}
	if cfg.Conversation.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_size %d must not be negative", cfg.Conversation.HistorySize))
	}
	if cfg.Conversation.Pacing < 0 {
		errs = append(errs, fmt.Errorf("conversation.pacing %s must not be negative", cfg.Conversation.Pacing))
	}

	// Voice
	if !cfg.Voice.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: stream, immediate", cfg.Voice.Mode))
	}
	for i, cmd := range cfg.Voice.PlaybackCommands {
		if len(cmd) == 0 {
			errs = append(errs, fmt.Errorf("voice.playback_commands[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}
