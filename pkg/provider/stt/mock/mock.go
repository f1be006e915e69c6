// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller opens sessions with the expected
// StreamConfig and to inspect every Session it handed out. Use Session to
// feed controlled Result values and inspect which audio chunks were
// delivered, in order.
//
// Example:
//
//	p := &mock.Provider{
//	    OnAudio: func(s *mock.Session, chunk []byte) {
//	        s.Emit(stt.Result{Text: "hi", IsFinal: true, EndOffset: 200 * time.Millisecond})
//	    },
//	}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider. Every successful
// StartStream creates a fresh Session.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned as the error from every StartStream.
	StartStreamErr error

	// StartStreamErrs maps call indices (zero-based) to errors returned by that
	// specific call. Takes precedence over StartStreamErr.
	StartStreamErrs map[int]error

	// OnAudio, if non-nil, is installed on every new Session (see Session.OnAudio).
	OnAudio func(s *Session, chunk []byte)

	// SendAudioErr, if non-nil, is installed on every new Session.
	SendAudioErr error

	// ResultBuffer is the Results channel capacity of new sessions. Default: 64.
	ResultBuffer int

	// EndOnCloseSend is installed on every new Session.
	EndOnCloseSend bool

	// --- Call records ---

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions lists every Session returned, in creation order.
	Sessions []*Session
}

// StartStream records the call and returns a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.StartStreamCalls)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if err, ok := p.StartStreamErrs[idx]; ok {
		return nil, err
	}
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	buf := p.ResultBuffer
	if buf <= 0 {
		buf = 64
	}
	s := &Session{
		Config:         cfg,
		Index:          len(p.Sessions),
		OnAudio:        p.OnAudio,
		SendAudioErr:   p.SendAudioErr,
		EndOnCloseSend: p.EndOnCloseSend,
		ResultsCh:      make(chan stt.Result, buf),
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// SessionCount returns the number of sessions created so far. Thread-safe.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sessions)
}

// Session returns the i-th created session. Thread-safe.
func (p *Provider) Session(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Sessions[i]
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Config is the handshake configuration the session was opened with.
	Config stt.StreamConfig

	// Index is the creation index of this session within its Provider.
	Index int

	// ResultsCh is the channel returned by Results(). Use Emit to send on it.
	ResultsCh chan stt.Result

	// OnAudio, if non-nil, is invoked after every recorded SendAudio call,
	// outside the session lock. Use it to script a server that answers audio
	// with results.
	OnAudio func(s *Session, chunk []byte)

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// EndOnCloseSend makes CloseSend end the inbound stream, as a server does
	// once it has flushed its last results after a half-close.
	EndOnCloseSend bool

	// --- Call records ---

	// Chunks records a copy of every chunk passed to SendAudio, in order.
	Chunks [][]byte

	// CloseSendCallCount is the number of times CloseSend was called.
	CloseSendCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	err       error
	halfShut  bool
	closed    bool
	closedCh  chan struct{}
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func (s *Session) initLocked() {
	if s.closedCh == nil {
		s.closedCh = make(chan struct{})
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed || s.halfShut {
		s.mu.Unlock()
		return stt.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		err := s.SendAudioErr
		s.mu.Unlock()
		return err
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	hook := s.OnAudio
	s.mu.Unlock()

	if hook != nil {
		hook(s, cp)
	}
	return nil
}

// Results returns ResultsCh.
func (s *Session) Results() <-chan stt.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResultsCh
}

// Err returns the error passed to Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers r on ResultsCh. It blocks while the channel is full and
// returns without sending once the session is closed.
func (s *Session) Emit(r stt.Result) {
	s.mu.Lock()
	s.initLocked()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	ch, closedCh := s.ResultsCh, s.closedCh
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case ch <- r:
	case <-closedCh:
	}
}

// Fail ends the inbound stream with err, as a transport failure would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.finish()
}

// CloseSend records the call. Further SendAudio calls fail. With
// EndOnCloseSend the results channel is closed as well.
func (s *Session) CloseSend() error {
	s.mu.Lock()
	s.CloseSendCallCount++
	s.halfShut = true
	end := s.EndOnCloseSend
	s.mu.Unlock()
	if end {
		s.finish()
	}
	return nil
}

// Close records the call, closes ResultsCh and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.finish()
	return err
}

// finish closes the results channel once no Emit is in flight.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.initLocked()
		s.closed = true
		close(s.closedCh)
		s.mu.Unlock()
		s.inflight.Wait()
		close(s.ResultsCh)
	})
}

// ChunkCount returns the number of recorded SendAudio chunks. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// SentChunks returns a copy of the recorded chunks. Thread-safe.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Chunks))
	copy(out, s.Chunks)
	return out
}

// Closed reports whether Close (or Fail) has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
