// Package mock provides test doubles for the audio package interfaces.
//
// Use Source to feed a scripted sequence of frames and transient read errors
// into code that consumes an [audio.Source].
//
// Example:
//
//	src := &mock.Source{
//	    Frames: mock.Frames(3, 6400),
//	    Errs:   map[int]error{1: errors.New("device hiccup")},
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/streamscribe/pkg/audio"
)

// Source is a mock implementation of audio.Source.
//
// Reads are numbered from zero. A read whose index appears in Errs returns
// that error (the source stays open); every other read returns the next frame
// from Frames. When Frames is exhausted the source closes itself.
type Source struct {
	mu sync.Mutex

	// Frames is the ordered list of frames returned by ReadFrame.
	Frames []audio.AudioFrame

	// Errs maps read indices to transient errors.
	Errs map[int]error

	// Gate, if non-nil, makes every ReadFrame wait for one value from it,
	// letting tests pace capture explicitly. Close unblocks waiting reads.
	Gate chan struct{}

	// KeepOpen, when true, makes ReadFrame block after Frames is exhausted
	// instead of closing, until Close is called.
	KeepOpen bool

	// --- Call records ---

	// ReadCalls is the number of times ReadFrame was called.
	ReadCalls int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next     int
	closed   bool
	closedCh chan struct{}
}

func (s *Source) init() {
	if s.closedCh == nil {
		s.closedCh = make(chan struct{})
	}
}

// ReadFrame returns the next scripted frame or error.
func (s *Source) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	s.init()
	gate, closedCh := s.Gate, s.closedCh
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-closedCh:
			return audio.AudioFrame{}, audio.ErrSourceClosed
		}
	}

	s.mu.Lock()
	idx := s.ReadCalls
	s.ReadCalls++
	if s.closed {
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
	if err, ok := s.Errs[idx]; ok {
		s.mu.Unlock()
		return audio.AudioFrame{}, err
	}
	if s.next >= len(s.Frames) {
		if s.KeepOpen {
			s.mu.Unlock()
			<-closedCh
			return audio.AudioFrame{}, audio.ErrSourceClosed
		}
		s.closed = true
		close(s.closedCh)
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
	f := s.Frames[s.next]
	s.next++
	s.mu.Unlock()
	return f, nil
}

// IsOpen reports whether Close has been called or the script has ended.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close records the call and unblocks pending reads.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
	return nil
}

// Frames builds n distinct frames of size bytes each (size >= 2). The first
// two bytes of frame i hold i little-endian; see [FrameIndex].
func Frames(n, size int) []audio.AudioFrame {
	out := make([]audio.AudioFrame, n)
	for i := range out {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i)
		}
		data[0], data[1] = byte(i), byte(i>>8)
		out[i] = audio.AudioFrame{
			Data:       data,
			SampleRate: audio.DefaultSampleRate,
			Channels:   audio.DefaultChannels,
		}
	}
	return out
}

// FrameIndex recovers the index written by [Frames] from a frame payload.
func FrameIndex(data []byte) int {
	if len(data) < 2 {
		return -1
	}
	return int(data[0]) | int(data[1])<<8
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
