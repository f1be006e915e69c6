package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/transcript"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// session is one open recognizer session and its receive pump.
type session struct {
	handle stt.SessionHandle
	id     string
	epoch  int
	opened time.Time
	span   trace.Span

	// Set once the pump is started at bridging time.
	detach   context.CancelFunc
	pumpDone chan struct{}

	closed bool
}

func (s *session) stopPump() {
	if s.detach != nil {
		s.detach()
	}
}

// loop is the state of one Run, owned by the control loop goroutine.
type loop struct {
	m      *Manager
	cfg    stt.StreamConfig
	queue  *audio.FrameQueue
	events chan transcript.Event
	agg    *transcript.Aggregator
	log    *slog.Logger

	cur          *session
	epoch        int
	sessionStart time.Time

	// history holds the frames taken from the queue into cur.
	history []audio.AudioFrame
	// lastHistory holds the frames of the session replaced at the last seam
	// until its unacknowledged tail has been replayed.
	lastHistory []audio.AudioFrame

	bridgingOffset time.Duration
	lastFinalAck   time.Duration // latest final of the replaced session
	replayPending  bool

	pumps sync.WaitGroup
}

func (l *loop) run(ctx context.Context) (err error) {
	defer func() { l.shutdown(ctx, err == nil) }()

	if err := l.open(ctx); err != nil {
		return err
	}

	for {
		if l.m.now().Sub(l.sessionStart) >= l.m.limit {
			if err := l.restart(ctx); err != nil {
				return err
			}
			continue
		}
		if l.replayPending {
			if err := l.bridge(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-l.agg.Failures():
			if f.Epoch != l.epoch {
				l.log.Debug("ignoring failure of replaced session", "epoch", f.Epoch, "err", f.Err)
				continue
			}
			l.m.metrics.RecordProviderError(ctx, l.m.providerName, "receive")
			return fmt.Errorf("%w: receive (epoch %d): %w", ErrTransport, f.Epoch, f.Err)

		case frame, ok := <-l.queue.Frames():
			if !ok {
				l.log.Info("audio source ended", "epoch", l.epoch)
				return nil
			}
			if err := l.send(ctx, frame); err != nil {
				return err
			}
			l.history = append(l.history, frame)
			l.m.metrics.FramesSent.Add(ctx, 1)
			if l.m.State() == StateAwaitingFirstFrame {
				l.m.setState(StateStreaming)
			}
		}
	}
}

// open starts a session for the current epoch. The provider sends the
// configuration handshake before returning.
func (l *loop) open(ctx context.Context) error {
	id := xid.New().String()
	sctx, span := observe.StartSpan(ctx, "stream.session", trace.WithAttributes(
		attribute.String("stream.session_id", id),
		attribute.Int("stream.epoch", l.epoch),
	))

	begin := time.Now()
	handle, err := l.m.provider.StartStream(sctx, l.cfg)
	l.m.metrics.SessionOpenDuration.Record(ctx, time.Since(begin).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open session")
		span.End()
		l.m.metrics.RecordProviderError(ctx, l.m.providerName, "open")
		return fmt.Errorf("%w: open session (epoch %d): %w", ErrTransport, l.epoch, err)
	}
	l.m.metrics.ActiveSessions.Add(ctx, 1)

	now := l.m.now()
	l.cur = &session{handle: handle, id: id, epoch: l.epoch, opened: now, span: span}
	l.sessionStart = now
	l.replayPending = true

	l.log.Debug("recognizer session opened", "session_id", id, "epoch", l.epoch)
	return nil
}

// restart replaces the expiring session with a fresh one.
func (l *loop) restart(ctx context.Context) error {
	l.m.setState(StateRestarting)

	old := l.cur
	l.flush(ctx, old)
	old.stopPump()
	if old.pumpDone != nil {
		select {
		case <-old.pumpDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.epoch++
	l.m.epoch.Store(int64(l.epoch))
	ack, err := l.seam(ctx)
	if err != nil {
		return err
	}
	l.lastFinalAck = ack.EndOffset
	l.lastHistory = l.history
	l.history = nil

	l.closeSession(ctx, old)
	l.cur = nil
	l.m.metrics.Restarts.Add(ctx, 1)
	l.log.Info("restarting stream",
		"epoch", l.epoch,
		"mark_ms", (l.m.limit * time.Duration(l.epoch)).Milliseconds(),
		"final_ack", l.lastFinalAck,
		"history_frames", len(l.lastHistory),
	)

	if err := l.open(ctx); err != nil {
		return err
	}
	l.m.setState(StateStreaming)
	return nil
}

// seam queues the restart marker behind every event the replaced session's
// pump delivered and waits until the aggregator has rendered them. The
// returned ack is the end of the replaced session's last final result.
func (l *loop) seam(ctx context.Context) (transcript.Ack, error) {
	s := transcript.NewSeam(l.epoch)
	select {
	case l.events <- transcript.Event{Seam: s}:
	case <-ctx.Done():
		return transcript.Ack{}, ctx.Err()
	}
	select {
	case ack := <-s.Done:
		return ack, nil
	case <-ctx.Done():
		return transcript.Ack{}, ctx.Err()
	}
}

// bridge replays the unacknowledged tail of the replaced session into the
// current one and starts the current session's receive pump. It runs once per
// session, before any new frame is forwarded.
func (l *loop) bridge(ctx context.Context) error {
	l.replayPending = false
	last := l.lastHistory
	l.lastHistory = nil

	var replay []audio.AudioFrame
	if plan, ok := Bridge(l.m.limit, len(last), l.bridgingOffset, l.lastFinalAck); ok {
		l.bridgingOffset = plan.Offset
		replay = last[plan.From:]
		l.log.Debug("bridging session",
			"epoch", l.epoch,
			"chunk", plan.Chunk,
			"replay_frames", len(replay),
			"bridging_offset", plan.Offset,
		)
	} else if len(last) > 0 {
		l.log.Debug("skipping replay", "epoch", l.epoch, "history_frames", len(last))
	}

	l.startPump(ctx)

	for _, f := range replay {
		if err := l.send(ctx, f); err != nil {
			return err
		}
	}
	if len(replay) > 0 {
		l.m.metrics.FramesReplayed.Add(ctx, int64(len(replay)))
	}
	return nil
}

// startPump forwards the current session's results to the aggregator, tagged
// with the session's fixed timebase.
func (l *loop) startPump(ctx context.Context) {
	s := l.cur
	pctx, cancel := context.WithCancel(ctx)
	s.detach = cancel
	s.pumpDone = make(chan struct{})
	base := transcript.Event{Epoch: s.epoch, BridgingOffset: l.bridgingOffset}

	l.pumps.Add(1)
	go func() {
		defer l.pumps.Done()
		defer close(s.pumpDone)
		pump(pctx, s.handle, l.events, base)
	}()
}

func pump(ctx context.Context, h stt.SessionHandle, out chan<- transcript.Event, base transcript.Event) {
	emit := func(ev transcript.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	results := h.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				if err := h.Err(); err != nil {
					ev := base
					ev.Err = err
					emit(ev)
				}
				return
			}
			ev := base
			ev.Result = r
			if !emit(ev) {
				return
			}
		}
	}
}

func (l *loop) send(ctx context.Context, f audio.AudioFrame) error {
	if err := l.cur.handle.SendAudio(f.Data); err != nil {
		l.m.metrics.RecordProviderError(ctx, l.m.providerName, "send")
		return fmt.Errorf("%w: send audio (epoch %d): %w", ErrTransport, l.epoch, err)
	}
	return nil
}

func (l *loop) closeSession(ctx context.Context, s *session) {
	if s.closed {
		return
	}
	s.closed = true
	go audio.Drain(s.handle.Results())
	if err := s.handle.Close(); err != nil {
		l.log.Warn("closing recognizer session failed", "session_id", s.id, "err", err)
	}
	l.m.metrics.RecordSession(ctx, l.m.now().Sub(s.opened))
	s.span.End()
}

// flush half-closes s and waits, up to the flush timeout, for its pump to
// deliver the trailing results the service still holds.
func (l *loop) flush(ctx context.Context, s *session) {
	if err := s.handle.CloseSend(); err != nil {
		l.log.Warn("close send failed", "session_id", s.id, "epoch", s.epoch, "err", err)
	}
	if s.pumpDone == nil || l.m.flushTimeout <= 0 {
		return
	}
	timer := time.NewTimer(l.m.flushTimeout)
	defer timer.Stop()
	select {
	case <-s.pumpDone:
	case <-timer.C:
		l.log.Warn("timed out waiting for final results", "session_id", s.id, "timeout", l.m.flushTimeout)
	case <-ctx.Done():
	}
}

// shutdown closes the last session. After a clean end of audio it flushes the
// session first. It returns once every pump has exited.
func (l *loop) shutdown(ctx context.Context, clean bool) {
	defer l.pumps.Wait()

	s := l.cur
	if s == nil {
		return
	}
	if clean {
		l.flush(ctx, s)
	}
	s.stopPump()
	l.closeSession(ctx, s)
}
