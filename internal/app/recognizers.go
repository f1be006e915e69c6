package app

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/resilience"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
	"github.com/MrWong99/streamscribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/streamscribe/pkg/provider/stt/google"
)

// RegisterBuiltinRecognizers wires the recognizers that ship with
// streamscribe into reg.
func RegisterBuiltinRecognizers(reg *config.Registry) {
	reg.RegisterSTT("google", func(ctx context.Context, entry config.ProviderEntry, rec config.RecognizerConfig) (stt.Provider, error) {
		var opts []google.Option
		if loc := entry.StringOption("location"); loc != "" {
			opts = append(opts, google.WithLocation(loc))
		}
		endpoint := entry.StringOption("endpoint")
		if endpoint == "" {
			endpoint = entry.BaseURL
		}
		if endpoint != "" {
			opts = append(opts, google.WithEndpoint(endpoint))
		}
		if entry.Model != "" {
			opts = append(opts, google.WithModel(entry.Model))
		}
		if rec.Language != "" {
			opts = append(opts, google.WithLanguage(rec.Language))
		}
		if entry.APIKey != "" {
			opts = append(opts, google.WithClientOptions(option.WithAPIKey(entry.APIKey)))
		}
		return google.New(ctx, entry.StringOption("project_id"), opts...)
	})

	reg.RegisterSTT("deepgram", func(_ context.Context, entry config.ProviderEntry, rec config.RecognizerConfig) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if rec.Language != "" {
			opts = append(opts, deepgram.WithLanguage(rec.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered recognizer", "name", name)
	}
}

// BuildRecognizer instantiates the primary recognizer and every fallback
// named in rec and puts them behind per-recognizer circuit breakers. The
// returned closers release provider resources such as gRPC connections.
func BuildRecognizer(ctx context.Context, rec config.RecognizerConfig, reg *config.Registry, m *observe.Metrics) (stt.Provider, []func() error, error) {
	var closers []func() error
	create := func(entry config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateSTT(ctx, entry, rec)
		if err != nil {
			return nil, err
		}
		if c, ok := p.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
		slog.Info("recognizer created", "name", entry.Name, "model", entry.Model)
		return p, nil
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	primary, err := create(rec.ProviderEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("app: recognizer %q: %w", rec.Name, err)
	}

	fb := resilience.NewSTTFallback(primary, rec.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rec.CircuitBreaker.MaxFailures,
			ResetTimeout: rec.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  rec.CircuitBreaker.HalfOpenMax,
		},
	}, m)
	for _, entry := range rec.Fallbacks {
		p, err := create(entry)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("app: fallback recognizer %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, closers, nil
}

// StreamConfig derives the per-session handshake from cfg. The model is left
// to each recognizer so that fallbacks keep their own.
func StreamConfig(cfg *config.Config) stt.StreamConfig {
	sc := stt.StreamConfig{
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		Language:       cfg.Recognizer.Language,
		InterimResults: config.Bool(cfg.Recognizer.InterimResults, true),
	}
	for _, kw := range cfg.Recognizer.Keywords {
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost})
	}
	return sc
}
