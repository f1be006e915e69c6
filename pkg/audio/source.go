package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSourceClosed is returned by [Source.ReadFrame] once the source has been
// closed or its underlying stream has ended.
var ErrSourceClosed = errors.New("audio: source closed")

// Source produces a continuous sequence of fixed-size frames at real-time
// pace. ReadFrame blocks until a full frame has been captured; this blocking
// is what paces the whole pipeline.
//
// A read error while IsOpen still reports true is transient: the caller
// should log it and read again. Once IsOpen returns false the source is done.
type Source interface {
	// ReadFrame blocks until the next frame is available.
	ReadFrame() (AudioFrame, error)

	// IsOpen reports whether the source can still produce frames.
	IsOpen() bool

	// Close releases the device and unblocks a pending ReadFrame.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// ReaderSource reads raw little-endian PCM16 from an [io.Reader], such as
// standard input fed by `arecord -f S16_LE -r 16000 -c 1` or a pipe from
// ffmpeg. Every ReadFrame performs a blocking [io.ReadFull] of one quantum.
type ReaderSource struct {
	r          io.Reader
	frameBytes int
	sampleRate int
	channels   int

	mu       sync.Mutex
	captured time.Duration

	open      atomic.Bool
	closeOnce sync.Once
}

// ReaderOption configures a [ReaderSource].
type ReaderOption func(*ReaderSource)

// WithFrameBytes sets the capture quantum in bytes. It must be a positive
// multiple of the sample width times the channel count.
func WithFrameBytes(n int) ReaderOption {
	return func(s *ReaderSource) {
		if n > 0 {
			s.frameBytes = n
		}
	}
}

// WithFormat sets the sample rate and channel count reported on each frame.
func WithFormat(sampleRate, channels int) ReaderOption {
	return func(s *ReaderSource) {
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// NewReaderSource wraps r as a [Source]. If r also implements [io.Closer],
// Close closes it, which unblocks a pending read.
func NewReaderSource(r io.Reader, opts ...ReaderOption) (*ReaderSource, error) {
	if r == nil {
		return nil, errors.New("audio: reader must not be nil")
	}
	s := &ReaderSource{
		r:          r,
		frameBytes: DefaultFrameBytes,
		sampleRate: DefaultSampleRate,
		channels:   DefaultChannels,
	}
	for _, o := range opts {
		o(s)
	}
	if s.frameBytes%(bytesPerSample*s.channels) != 0 {
		return nil, fmt.Errorf("audio: frame size %d is not a whole number of %d-channel samples", s.frameBytes, s.channels)
	}
	s.open.Store(true)
	return s, nil
}

// ReadFrame reads exactly one quantum. A short read at end of stream closes
// the source and returns [ErrSourceClosed]; the partial tail is discarded.
func (s *ReaderSource) ReadFrame() (AudioFrame, error) {
	if !s.open.Load() {
		return AudioFrame{}, ErrSourceClosed
	}
	buf := make([]byte, s.frameBytes)
	n, err := io.ReadFull(s.r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || !s.open.Load() {
			s.open.Store(false)
			return AudioFrame{}, ErrSourceClosed
		}
		return AudioFrame{}, fmt.Errorf("audio: read frame (%d of %d bytes): %w", n, s.frameBytes, err)
	}

	s.mu.Lock()
	ts := s.captured
	s.captured += PCMDuration(n, s.sampleRate, s.channels)
	s.mu.Unlock()

	return AudioFrame{
		Data:       buf,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  ts,
	}, nil
}

// IsOpen reports whether the reader can still produce frames.
func (s *ReaderSource) IsOpen() bool { return s.open.Load() }

// Close marks the source closed and closes the underlying reader if it is
// an [io.Closer].
func (s *ReaderSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.open.Store(false)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// Compile-time interface assertion.
var _ Source = (*ReaderSource)(nil)
