package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Bhavikr1/spibot/internal/config"
)

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: debug
api:
  base_url: https://bot.example.org
  timeout: 45s
  circuit_breaker:
    max_failures: 3
    reset_timeout: 1m
conversation:
  language: hi
  include_citations: false
  history_size: 4
  pacing: 0s
voice:
  mode: immediate
  record_command: [parec, --raw, --format=s16le, --rate={rate}, --channels={channels}]
  playback_commands:
    - [paplay]
telemetry:
  listen_addr: ":9464"
  service_name: spibot-test
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.API.BaseURL != "https://bot.example.org" || cfg.API.Timeout != 45*time.Second {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.CircuitBreaker.MaxFailures != 3 || cfg.API.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("CircuitBreaker = %+v", cfg.API.CircuitBreaker)
	}
	if cfg.Conversation.Language != "hi" || cfg.Conversation.IncludeCitations || cfg.Conversation.HistorySize != 4 || cfg.Conversation.Pacing != 0 {
		t.Errorf("Conversation = %+v", cfg.Conversation)
	}
	if cfg.Voice.Mode != config.VoiceModeImmediate || cfg.Voice.RecordCommand[0] != "parec" || len(cfg.Voice.PlaybackCommands) != 1 {
		t.Errorf("Voice = %+v", cfg.Voice)
	}
	if cfg.Telemetry.ListenAddr != ":9464" || cfg.Telemetry.ServiceName != "spibot-test" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()
	if cfg.API.BaseURL != def.API.BaseURL || cfg.Conversation.HistorySize != 6 || cfg.Conversation.Pacing != 10*time.Millisecond {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadFromReader_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("conversation:\n  language: hi\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Conversation.Language != "hi" {
		t.Errorf("Language = %q, want hi", cfg.Conversation.Language)
	}
	if !cfg.Conversation.IncludeCitations || cfg.Voice.Mode != config.VoiceModeStream {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("api:\n  base_uri: http://x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "base_uri") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: verbose
api:
  base_url: localhost:8000
conversation:
  language: fr
  history_size: -1
voice:
  mode: later
  playback_commands:
    - []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"log_level", "api.base_url", "conversation.language", "conversation.history_size", "voice.mode", "voice.playback_commands[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := config.Load(path); err == nil {
		t.Error("Load of a missing file should fail")
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q, want default", cfg.API.BaseURL)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spibot.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.LogLevel != config.LogWarn {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	env := map[string]string{config.EnvAPIURL: "http://backend:9000"}
	config.ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.API.BaseURL != "http://backend:9000" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoadEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(config.EnvAPIURL+"=http://from-dotenv:8000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvAPIURL, "")
	os.Unsetenv(config.EnvAPIURL)

	cfg := config.Default()
	if err := config.LoadEnv(cfg, path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.API.BaseURL != "http://from-dotenv:8000" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoadEnv_ProcessEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(config.EnvAPIURL+"=http://from-dotenv:8000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvAPIURL, "http://from-env:8000")

	cfg := config.Default()
	if err := config.LoadEnv(cfg, path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.API.BaseURL != "http://from-env:8000" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoadEnv_MissingFile(t *testing.T) {
	t.Setenv(config.EnvAPIURL, "")
	cfg := config.Default()
	if err := config.LoadEnv(cfg, filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}
