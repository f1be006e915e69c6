// Package wavfile provides an [audio.Source] that replays a WAV file as if it
// were a live capture device.
//
// The file is decoded with beep, resampled to the target rate, downmixed to
// the target channel count and cut into fixed-size PCM16 frames. A file has
// no device clock, so the source optionally sleeps until each frame's
// real-time deadline before returning it.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/streamscribe/pkg/audio"
)

// resampleQuality is the beep resampler quality (1 = linear, higher is
// smoother and slower).
const resampleQuality = 4

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithFrameBytes sets the capture quantum in bytes.
func WithFrameBytes(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.frameBytes = n
		}
	}
}

// WithFormat sets the output sample rate and channel count.
func WithFormat(sampleRate, channels int) Option {
	return func(s *Source) {
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// WithRealtime paces ReadFrame to real time when enabled. Default: true.
func WithRealtime(enabled bool) Option {
	return func(s *Source) {
		s.realtime = enabled
	}
}

// withClock overrides sleeping and time lookup in tests.
func withClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Source) {
		s.now = now
		s.sleep = sleep
	}
}

// Source replays a decoded WAV stream. It implements [audio.Source].
type Source struct {
	frameBytes int
	sampleRate int
	channels   int
	realtime   bool
	now        func() time.Time
	sleep      func(time.Duration)

	rc       io.Closer
	decoded  beep.StreamSeekCloser
	streamer beep.Streamer

	mu       sync.Mutex
	started  time.Time
	captured time.Duration
	open     bool
}

// Open opens the WAV file at path.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	s, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// New decodes WAV data from r. Close closes r.
func New(r io.ReadCloser, opts ...Option) (*Source, error) {
	s := &Source{
		frameBytes: audio.DefaultFrameBytes,
		sampleRate: audio.DefaultSampleRate,
		channels:   audio.DefaultChannels,
		realtime:   true,
		now:        time.Now,
		sleep:      time.Sleep,
		rc:         r,
	}
	for _, o := range opts {
		o(s)
	}
	if s.frameBytes%(2*s.channels) != 0 {
		return nil, fmt.Errorf("wavfile: frame size %d is not a whole number of %d-channel samples", s.frameBytes, s.channels)
	}

	decoded, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode: %w", err)
	}
	s.decoded = decoded
	s.streamer = decoded

	target := beep.SampleRate(s.sampleRate)
	if format.SampleRate != target {
		s.streamer = beep.Resample(resampleQuality, format.SampleRate, target, decoded)
	}
	s.open = true
	return s, nil
}

// ReadFrame returns the next frame. The final partial frame is padded with
// silence so every frame has the configured size.
func (s *Source) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}

	samplesPerFrame := s.frameBytes / (2 * s.channels)
	buf := make([][2]float64, samplesPerFrame)
	filled := 0
	for filled < samplesPerFrame {
		n, ok := s.streamer.Stream(buf[filled:])
		filled += n
		if !ok {
			break
		}
	}
	if filled == 0 {
		s.open = false
		if err := s.streamer.Err(); err != nil {
			return audio.AudioFrame{}, errors.Join(audio.ErrSourceClosed, err)
		}
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}

	data := audio.EncodePCM16(buf, s.channels)
	ts := s.captured
	s.captured += audio.PCMDuration(len(data), s.sampleRate, s.channels)

	if s.realtime {
		if s.started.IsZero() {
			s.started = s.now()
		}
		if wait := s.started.Add(s.captured).Sub(s.now()); wait > 0 {
			s.sleep(wait)
		}
	}

	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  ts,
	}, nil
}

// IsOpen reports whether frames remain.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close releases the decoder and the underlying file.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoded == nil {
		return nil
	}
	s.open = false
	err := s.decoded.Close()
	s.decoded = nil
	if s.rc != nil {
		if cerr := s.rc.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)
