// Package stream sustains unbounded real-time transcription over recognizer
// sessions that have a hard maximum duration.
//
// A [Manager] forwards captured audio into the current session and replaces
// the session when it reaches the duration limit. The new session first
// receives a replay of the audio the old session never confirmed with a final
// result, so speech straddling the seam is not lost, and every result is
// placed on one run-wide timeline by the [transcript.Aggregator].
//
// All restart state (epoch, bridging offset, audio history, last final
// acknowledgement) is owned by the control loop goroutine. Result delivery
// runs on its own goroutines and reports back only through channels.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/transcript"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// DefaultDurationLimit is the maximum lifetime of one recognizer session
// (290 000 ms), just under the five-minute cap of streaming recognition.
const DefaultDurationLimit = transcript.DefaultDurationLimit

// DefaultEventBuffer is the capacity of the result event channel between the
// receive pumps and the aggregator.
const DefaultEventBuffer = 64

// DefaultFlushTimeout bounds how long Run waits for the last session's final
// results after the audio source has ended.
const DefaultFlushTimeout = 5 * time.Second

// ErrTransport wraps send, receive and session-open failures that end a run.
var ErrTransport = errors.New("stream: transport failure")

// Manager runs endless transcriptions. A Manager may be reused for
// consecutive runs but runs must not overlap.
type Manager struct {
	provider     stt.Provider
	providerName string
	sink         transcript.Sink

	limit        time.Duration
	queueCap     int
	eventBuf     int
	flushTimeout time.Duration
	now          func() time.Time
	metrics      *observe.Metrics
	log          *slog.Logger

	state atomic.Int32
	epoch atomic.Int64
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithDurationLimit sets the session lifetime after which a restart is
// performed. Default: [DefaultDurationLimit].
func WithDurationLimit(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.limit = d
		}
	}
}

// WithQueueCapacity sets the number of captured frames buffered between the
// audio source and the control loop. Default: [audio.DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueCap = n
		}
	}
}

// WithEventBuffer sets the capacity of the result event channel.
// Default: [DefaultEventBuffer].
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.eventBuf = n
		}
	}
}

// WithFlushTimeout sets how long Run waits for trailing results once the
// source has ended. Zero closes the last session immediately.
func WithFlushTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.flushTimeout = d
		}
	}
}

// WithProviderName sets the provider label recorded with error metrics.
func WithProviderName(name string) Option {
	return func(m *Manager) { m.providerName = name }
}

// WithClock replaces the clock used to measure session age.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		if met != nil {
			m.metrics = met
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a Manager that opens sessions through provider and renders the
// transcript into sink.
func New(provider stt.Provider, sink transcript.Sink, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("stream: provider must not be nil")
	}
	if sink == nil {
		return nil, errors.New("stream: sink must not be nil")
	}
	m := &Manager{
		provider:     provider,
		sink:         sink,
		limit:        DefaultDurationLimit,
		queueCap:     audio.DefaultQueueCapacity,
		eventBuf:     DefaultEventBuffer,
		flushTimeout: DefaultFlushTimeout,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.state.Store(int32(StateClosed))
	return m, nil
}

// State returns the current lifecycle phase. Safe for concurrent use.
func (m *Manager) State() State { return State(m.state.Load()) }

// Ready returns nil while a session is receiving audio, including across a
// restart seam, and an error naming the state otherwise.
func (m *Manager) Ready() error {
	switch s := m.State(); s {
	case StateStreaming, StateRestarting:
		return nil
	default:
		return fmt.Errorf("stream: %s", s)
	}
}

// Epoch returns the restart counter of the current run. Safe for concurrent use.
func (m *Manager) Epoch() int { return int(m.epoch.Load()) }

// DurationLimit returns the configured session lifetime.
func (m *Manager) DurationLimit() time.Duration { return m.limit }

// Run transcribes src until it ends (returns nil), ctx is cancelled (returns
// ctx.Err()) or a session fails (returns an error wrapping [ErrTransport]).
// Capture read errors reported while src is still open are logged and do not
// end the run. Run closes src before returning.
func (m *Manager) Run(ctx context.Context, src audio.Source, cfg stt.StreamConfig) error {
	m.epoch.Store(0)
	m.setState(StateAwaitingFirstFrame)
	defer m.setState(StateClosed)

	queue := audio.NewFrameQueue(m.queueCap)
	events := make(chan transcript.Event, m.eventBuf)
	agg := transcript.NewAggregator(m.sink,
		transcript.WithDurationLimit(m.limit),
		transcript.WithMetrics(m.metrics),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return audio.Capture(gctx, src, queue, func(err error) {
			m.metrics.CaptureErrors.Add(gctx, 1)
		})
	})

	g.Go(func() error {
		return agg.Run(gctx, events)
	})

	g.Go(func() error {
		defer close(events)
		defer src.Close()
		log := m.log
		if id := observe.RunID(ctx); id != "" {
			log = log.With("run_id", id)
		}
		l := &loop{m: m, cfg: cfg, queue: queue, events: events, agg: agg, log: log}
		return l.run(gctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }
