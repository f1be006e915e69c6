// Package config provides the configuration schema, loader, and recognizer
// registry for streamscribe.
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

// SourceKind selects where audio is captured from.
type SourceKind string

const (
	// SourceStdin reads raw little-endian PCM16 from standard input.
	SourceStdin SourceKind = "stdin"

	// SourceFile decodes a WAV file.
	SourceFile SourceKind = "file"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceStdin || k == SourceFile
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stream     StreamConfig     `yaml:"stream"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
}

// ServerConfig holds logging and the operations HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address of the /metrics, /healthz and /readyz
	// listener (e.g., ":9464"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without a restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// StreamConfig tunes the session manager.
type StreamConfig struct {
	// DurationLimit is the lifetime of one recognizer session before it is
	// replaced. Default: 290s.
	DurationLimit time.Duration `yaml:"duration_limit"`

	// FrameBytes is the capture quantum in bytes. Default: 6400 (200 ms of
	// 16 kHz mono PCM16).
	FrameBytes int `yaml:"frame_bytes"`

	// QueueCapacity is the number of captured frames buffered between capture
	// and the network. Default: 64.
	QueueCapacity int `yaml:"queue_capacity"`

	// EventBuffer is the number of recognition results buffered between the
	// receive pump and the transcript renderer. Default: 64.
	EventBuffer int `yaml:"event_buffer"`

	// FlushTimeout bounds how long the final session may keep delivering
	// results after the audio ends. Default: 5s.
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// Color enables ANSI colors in the terminal transcript. Default: true.
	Color *bool `yaml:"color"`
}

// AudioConfig selects and describes the capture source.
type AudioConfig struct {
	// Source is "stdin" (default) or "file".
	Source SourceKind `yaml:"source"`

	// Path is the WAV file read when Source is "file".
	Path string `yaml:"path"`

	// SampleRate is the stream rate in Hz. File sources are resampled to it.
	// Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is 1 (default) or 2.
	Channels int `yaml:"channels"`

	// Realtime paces file sources to the wall clock. Default: true.
	Realtime *bool `yaml:"realtime"`
}

// RecognizerConfig selects the primary recognizer, its recognition settings,
// and the recognizers tried when it refuses a session.
type RecognizerConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the BCP-47 recognition language. Default: "en-US".
	Language string `yaml:"language"`

	// InterimResults requests provisional results. Default: true.
	InterimResults *bool `yaml:"interim_results"`

	// Keywords are vocabulary hints applied to every session.
	Keywords []KeywordConfig `yaml:"keywords"`

	// Fallbacks are tried in order when the primary fails to open a session.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the breaker placed in front of every recognizer.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// KeywordConfig is one vocabulary hint.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// CircuitBreakerConfig mirrors the tunables of the recognizer breakers. Zero
// values select the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the configuration block shared by every recognizer.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("google", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "chirp_3", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above, such as project_id and location for google.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] if it is a string, or "".
func (e ProviderEntry) StringOption(key string) string {
	if s, ok := e.Options[key].(string); ok {
		return s
	}
	return ""
}

// Bool dereferences an optional flag, returning def when it is unset.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
