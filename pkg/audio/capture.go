package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff between consecutive read failures. The first failure of a run is
// retried immediately.
const (
	captureBackoffMin = 10 * time.Millisecond
	captureBackoffMax = time.Second
)

// CaptureErrorFunc is invoked for each transient read error. May be nil.
type CaptureErrorFunc func(err error)

// Capture pumps frames from src into q until src closes or ctx is cancelled.
// It always closes q before returning so the consumer observes end of stream.
//
// Read errors reported while the source is still open never terminate the
// capture. Consecutive failures are retried with a doubling delay, and only
// the first of a run is logged at warn level. Capture returns nil on a normal
// end of stream and ctx.Err() on cancellation.
func Capture(ctx context.Context, src Source, q *FrameQueue, onError CaptureErrorFunc) error {
	defer q.Close()

	var failures int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrSourceClosed) || !src.IsOpen() {
				slog.Debug("audio capture: source closed")
				return nil
			}
			failures++
			if failures == 1 {
				slog.Warn("audio capture: read failed, continuing", "err", err)
			} else {
				slog.Debug("audio capture: read failed again", "err", err, "consecutive", failures)
			}
			if onError != nil {
				onError(err)
			}
			if err := sleepCtx(ctx, captureBackoff(failures)); err != nil {
				return err
			}
			continue
		}
		if failures > 1 {
			slog.Info("audio capture: recovered", "failed_reads", failures)
		}
		failures = 0
		if len(frame.Data) == 0 {
			continue
		}

		if err := q.Push(ctx, frame); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
	}
}

// captureBackoff returns the delay before retrying after the n-th
// consecutive failure.
func captureBackoff(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	d := captureBackoffMin
	for i := 2; i < n && d < captureBackoffMax; i++ {
		d *= 2
	}
	return min(d, captureBackoffMax)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
