package audio_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/audio/mock"
)

func TestCapture_ForwardsAllFrames(t *testing.T) {
	src := &mock.Source{Frames: mock.Frames(5, 8)}
	q := audio.NewFrameQueue(8)

	if err := audio.Capture(t.Context(), src, q, nil); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	var got []int
	for f := range q.Frames() {
		got = append(got, mock.FrameIndex(f.Data))
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(got))
	}
	for i, idx := range got {
		if idx != i {
			t.Errorf("position %d: got frame %d", i, idx)
		}
	}
}

func TestCapture_TransientErrorsDoNotStop(t *testing.T) {
	src := &mock.Source{
		Frames: mock.Frames(3, 8),
		Errs: map[int]error{
			0: errors.New("overrun"),
			2: errors.New("overrun"),
		},
	}
	q := audio.NewFrameQueue(8)

	var reported int
	err := audio.Capture(t.Context(), src, q, func(error) { reported++ })
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if reported != 2 {
		t.Errorf("expected 2 reported errors, got %d", reported)
	}
	if q.Len() != 3 {
		t.Errorf("expected all 3 frames after transient errors, got %d", q.Len())
	}
}

func TestCapture_ClosesQueueOnCancel(t *testing.T) {
	src := &mock.Source{KeepOpen: true, Gate: make(chan struct{})}
	q := audio.NewFrameQueue(1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := audio.Capture(ctx, src, q, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, ok := <-q.Frames(); ok {
		t.Error("expected queue to be closed")
	}
}

// failingSource reports an error on every read while claiming to be open.
type failingSource struct{ reads atomic.Int64 }

func (s *failingSource) ReadFrame() (audio.AudioFrame, error) {
	s.reads.Add(1)
	return audio.AudioFrame{}, errors.New("device busy")
}
func (s *failingSource) IsOpen() bool { return true }
func (s *failingSource) Close() error { return nil }

func TestCapture_BacksOffOnRepeatedErrors(t *testing.T) {
	src := &failingSource{}
	q := audio.NewFrameQueue(1)

	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()

	var reported atomic.Int64
	err := audio.Capture(ctx, src, q, func(error) { reported.Add(1) })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Capture = %v, want context.DeadlineExceeded", err)
	}
	// 10ms, 20ms, 40ms, 80ms... leaves room for only a handful of reads.
	if n := src.reads.Load(); n > 20 {
		t.Errorf("source read %d times in 150ms, want a backoff between failures", n)
	}
	if reported.Load() != src.reads.Load() {
		t.Errorf("reported %d errors for %d failed reads", reported.Load(), src.reads.Load())
	}
	if _, ok := <-q.Frames(); ok {
		t.Error("expected queue to be closed")
	}
}
