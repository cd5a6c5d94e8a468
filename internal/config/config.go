// Package config provides the configuration schema and loader for spibot.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VoiceMode selects how recorded questions are answered.
type VoiceMode string

const (
	// VoiceModeStream transcribes first, then streams a text answer.
	VoiceModeStream VoiceMode = "stream"

	// VoiceModeImmediate plays the spoken answer returned with the transcript.
	VoiceModeImmediate VoiceMode = "immediate"
)

// IsValid reports whether m is a recognised voice mode.
func (m VoiceMode) IsValid() bool {
	return m == VoiceModeStream || m == VoiceModeImmediate
}

// Languages lists the language tags the backend answers in.
var Languages = []string{"en", "hi"}

// Config is the root configuration structure for spibot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel     LogLevel           `yaml:"log_level"`
	API          APIConfig          `yaml:"api"`
	Conversation ConversationConfig `yaml:"conversation"`
	Voice        VoiceConfig        `yaml:"voice"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	// BaseURL is the backend address. Overridden by SPIBOT_API_URL.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request including a streamed body. Zero leaves the
	// transport defaults in place.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker in front of the backend.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ConversationConfig holds turn behaviour settings.
type ConversationConfig struct {
	// Language is the initial answer language ("en" or "hi").
	Language string `yaml:"language"`

	IncludeCitations bool `yaml:"include_citations"`

	// HistorySize is the number of prior messages sent with each query.
	HistorySize int `yaml:"history_size"`

	// Pacing is the pause between applied stream fragments.
	Pacing time.Duration `yaml:"pacing"`
}

// VoiceConfig configures microphone capture and answer playback.
type VoiceConfig struct {
	Mode VoiceMode `yaml:"mode"`

	// RecordCommand produces raw 16-bit little-endian PCM on stdout. The
	// placeholders {rate} and {channels} are substituted.
	RecordCommand []string `yaml:"record_command"`

	// PlaybackCommands are tried in order; the clip path is appended.
	PlaybackCommands [][]string `yaml:"playback_commands"`
}

// TelemetryConfig configures the optional metrics and health listener.
type TelemetryConfig struct {
	// ListenAddr enables /metrics, /healthz and /readyz when non-empty.
	ListenAddr string `yaml:"listen_addr"`

	ServiceName string `yaml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Conversation: ConversationConfig{
			Language:         "en",
			IncludeCitations: true,
			HistorySize:      6,
			Pacing:           10 * time.Millisecond,
		},
		Voice: VoiceConfig{
			Mode:          VoiceModeStream,
			RecordCommand: []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "{channels}", "-r", "{rate}"},
			PlaybackCommands: [][]string{
				{"aplay", "-q"},
				{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "spibot",
		},
	}
}
