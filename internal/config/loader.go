package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued fields.
const (
	DefaultDurationLimit = 290 * time.Second
	DefaultFrameBytes    = 6400
	DefaultQueueCapacity = 64
	DefaultEventBuffer   = 64
	DefaultFlushTimeout  = 5 * time.Second
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultLanguage      = "en-US"
)

// Environment variables consulted while loading.
const (
	EnvGoogleProject  = "GOOGLE_CLOUD_PROJECT"
	EnvDeepgramAPIKey = "DEEPGRAM_API_KEY"
)

// ValidProviderNames lists the recognizers compiled into streamscribe.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"google", "deepgram"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment fallbacks, and validates the result. Unknown keys are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration built from defaults and the
// environment alone: Google Cloud Speech when GOOGLE_CLOUD_PROJECT is set,
// Deepgram when only DEEPGRAM_API_KEY is.
func Default() (*Config, error) {
	cfg := &Config{}
	switch {
	case os.Getenv(EnvGoogleProject) != "":
		cfg.Recognizer.Name = "google"
	case os.Getenv(EnvDeepgramAPIKey) != "":
		cfg.Recognizer.Name = "deepgram"
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg and copies credentials from
// the environment into recognizer entries that lack them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Stream
	if s.DurationLimit == 0 {
		s.DurationLimit = DefaultDurationLimit
	}
	if s.FrameBytes == 0 {
		s.FrameBytes = DefaultFrameBytes
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = DefaultQueueCapacity
	}
	if s.EventBuffer == 0 {
		s.EventBuffer = DefaultEventBuffer
	}
	if s.FlushTimeout == 0 {
		s.FlushTimeout = DefaultFlushTimeout
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = SourceStdin
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}

	if cfg.Recognizer.Language == "" {
		cfg.Recognizer.Language = DefaultLanguage
	}
	applyEnv(&cfg.Recognizer.ProviderEntry)
	for i := range cfg.Recognizer.Fallbacks {
		applyEnv(&cfg.Recognizer.Fallbacks[i])
	}
}

func applyEnv(e *ProviderEntry) {
	switch e.Name {
	case "google":
		if e.StringOption("project_id") != "" {
			return
		}
		if p := os.Getenv(EnvGoogleProject); p != "" {
			if e.Options == nil {
				e.Options = map[string]any{}
			}
			e.Options["project_id"] = p
		}
	case "deepgram":
		if e.APIKey == "" {
			e.APIKey = os.Getenv(EnvDeepgramAPIKey)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	s := cfg.Stream
	if s.DurationLimit <= 0 {
		errs = append(errs, fmt.Errorf("stream.duration_limit %v must be positive", s.DurationLimit))
	}
	if s.FrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("stream.frame_bytes %d must be positive", s.FrameBytes))
	} else if cfg.Audio.Channels > 0 && s.FrameBytes%(2*cfg.Audio.Channels) != 0 {
		errs = append(errs, fmt.Errorf("stream.frame_bytes %d is not a whole number of %d-channel PCM16 samples", s.FrameBytes, cfg.Audio.Channels))
	}
	if s.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("stream.queue_capacity %d must not be negative", s.QueueCapacity))
	}
	if s.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("stream.event_buffer %d must not be negative", s.EventBuffer))
	}
	if s.FlushTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.flush_timeout %v must not be negative", s.FlushTimeout))
	}

	a := cfg.Audio
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: stdin, file", a.Source))
	}
	if a.Source == SourceFile && a.Path == "" {
		errs = append(errs, errors.New("audio.path is required when audio.source is file"))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}

	seen := map[string]string{}
	errs = append(errs, validateEntry("recognizer", cfg.Recognizer.ProviderEntry, seen)...)
	for i, fb := range cfg.Recognizer.Fallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("recognizer.fallbacks[%d]", i), fb, seen)...)
	}
	for i, kw := range cfg.Recognizer.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("recognizer.keywords[%d].keyword is required", i))
		}
	}
	cb := cfg.Recognizer.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("recognizer.circuit_breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateEntry checks one recognizer entry. seen maps names to the prefix
// that first used them.
func validateEntry(prefix string, e ProviderEntry, seen map[string]string) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	var errs []error
	if prev, ok := seen[e.Name]; ok {
		errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, e.Name, prev))
	}
	seen[e.Name] = prefix

	switch e.Name {
	case "google":
		if e.StringOption("project_id") == "" {
			errs = append(errs, fmt.Errorf("%s.options.project_id is required for google (or set %s)", prefix, EnvGoogleProject))
		}
	case "deepgram":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for deepgram (or set %s)", prefix, EnvDeepgramAPIKey))
		}
	}
	validateProviderName(e.Name)
	return errs
}

// validateProviderName logs a warning if name is not one of [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown recognizer name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
