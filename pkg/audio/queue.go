package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [FrameQueue.Push] after [FrameQueue.Close].
var ErrQueueClosed = errors.New("audio: frame queue closed")

// DefaultQueueCapacity is the number of frames a [FrameQueue] buffers when no
// capacity is given: about 12.8 s of audio at the default quantum.
const DefaultQueueCapacity = 64

// FrameQueue is a bounded FIFO that hands frames from the capture goroutine to
// the session control loop. It never drops: Push blocks while the queue is
// full, so a slow consumer throttles the producer.
//
// There must be exactly one producer; it alone calls Close. Any number of
// goroutines may receive from [FrameQueue.Frames].
type FrameQueue struct {
	ch chan AudioFrame

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewFrameQueue creates a queue holding at most capacity frames. A
// non-positive capacity selects [DefaultQueueCapacity].
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{ch: make(chan AudioFrame, capacity)}
}

// Push enqueues f, blocking while the queue is full. It returns ctx.Err() if
// ctx is cancelled first and [ErrQueueClosed] if the queue has been closed.
func (q *FrameQueue) Push(ctx context.Context, f AudioFrame) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next frame, blocking until one is available. ok is false
// once the queue is closed and drained.
func (q *FrameQueue) Pop(ctx context.Context) (f AudioFrame, ok bool, err error) {
	select {
	case f, ok = <-q.ch:
		return f, ok, nil
	case <-ctx.Done():
		return AudioFrame{}, false, ctx.Err()
	}
}

// Frames exposes the receive side so consumers can select on it alongside
// other channels. The channel is closed after Close once drained.
func (q *FrameQueue) Frames() <-chan AudioFrame { return q.ch }

// Len reports how many frames are currently buffered.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap reports the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }

// Close marks the end of the stream. Buffered frames remain readable.
// Safe to call more than once.
func (q *FrameQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
