package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/streamscribe/internal/observe"
)

// DefaultDurationLimit is the maximum lifetime of one recognizer session.
const DefaultDurationLimit = 290 * time.Second

// Aggregator consumes result events from all sessions of a run in channel
// order. Restarts arrive on the same channel as [Seam] markers, so every
// result a replaced session delivered is rendered before its seam.
type Aggregator struct {
	limit   time.Duration
	sink    Sink
	metrics *observe.Metrics

	failures chan Failure

	// Owned by Run.
	epoch     int
	lastFinal time.Duration
	lineOpen  bool
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithDurationLimit sets the session duration limit used for time correction.
// It must match the limit the session manager restarts at.
func WithDurationLimit(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.limit = d
		}
	}
}

// WithMetrics sets the metrics the aggregator records results into.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator creates an aggregator rendering into sink.
func NewAggregator(sink Sink, opts ...Option) *Aggregator {
	a := &Aggregator{
		limit:    DefaultDurationLimit,
		sink:     sink,
		failures: make(chan Failure, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Failures delivers fatal receive errors. An unread failure is kept unless a
// failure from a newer epoch arrives, which replaces it.
func (a *Aggregator) Failures() <-chan Failure { return a.failures }

// Run processes events until events is closed (returns nil) or ctx is
// cancelled (returns ctx.Err()).
func (a *Aggregator) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if a.lineOpen {
					a.sink.Break()
					a.lineOpen = false
				}
				return nil
			}
			a.handle(ctx, ev)
		}
	}
}

// advance moves the rendered timeline to epoch, announcing every seam crossed.
func (a *Aggregator) advance(epoch int) {
	if epoch <= a.epoch {
		return
	}
	if a.lineOpen {
		a.sink.Break()
		a.lineOpen = false
	}
	for e := a.epoch + 1; e <= epoch; e++ {
		a.sink.Restart(a.limit * time.Duration(e))
	}
	a.epoch = epoch
	a.lastFinal = 0
}

// seam acknowledges the session being replaced and moves to the next epoch.
func (a *Aggregator) seam(s *Seam) {
	ack := Ack{Epoch: a.epoch, EndOffset: a.lastFinal}
	a.advance(s.Epoch)
	select {
	case s.Done <- ack:
	default:
	}
}

func (a *Aggregator) handle(ctx context.Context, ev Event) {
	if ev.Seam != nil {
		a.seam(ev.Seam)
		return
	}
	if ev.Epoch < a.epoch {
		slog.Debug("transcript: dropping event from replaced session", "epoch", ev.Epoch, "current", a.epoch)
		return
	}
	a.advance(ev.Epoch)

	if ev.Err != nil {
		if a.lineOpen {
			a.sink.Break()
			a.lineOpen = false
		}
		a.sink.Error(ev.Err)
		a.fail(Failure{Epoch: ev.Epoch, Err: ev.Err})
		return
	}

	elapsed := ev.Elapsed(a.limit)
	r := ev.Result
	if r.IsFinal {
		a.lastFinal = r.EndOffset.Truncate(time.Millisecond)
		a.sink.Final(elapsed, r.Text, r.Confidence)
		a.lineOpen = false
		a.metrics.RecordResult(ctx, "final")
		return
	}
	a.sink.Interim(elapsed, r.Text)
	a.lineOpen = true
	a.metrics.RecordResult(ctx, "interim")
}

// fail publishes f unless an unread failure of the same or a newer epoch is
// already pending.
func (a *Aggregator) fail(f Failure) {
	select {
	case old := <-a.failures:
		if old.Epoch >= f.Epoch {
			f = old
		}
	default:
	}
	a.failures <- f
}
