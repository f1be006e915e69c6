package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] by opening each session on the first
// healthy recognizer. Failover happens only in StartStream; audio already
// sent to a session is never re-routed.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// recognizer. Breaker transitions are logged; when m is non-nil every attempt
// is also counted in streamscribe.provider.requests.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *STTFallback {
	if m != nil {
		next := cfg.OnAttempt
		cfg.OnAttempt = func(name, status string) {
			m.RecordProviderRequest(context.Background(), name, status)
			if next != nil {
				next(name, status)
			}
		}
	}
	prev := cfg.CircuitBreaker.OnStateChange
	cfg.CircuitBreaker.OnStateChange = func(name string, from, to State) {
		slog.Info("recognizer breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		if prev != nil {
			prev(name, from, to)
		}
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognizer, tried after those added earlier.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names lists the recognizers in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream opens a session on the first recognizer that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
