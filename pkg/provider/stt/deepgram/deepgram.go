// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// The configuration handshake is carried in the query string of the upgrade
// request; audio follows as binary messages. CloseSend sends the CloseStream
// control message so Deepgram flushes its final results before closing.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint (e.g., for a self-hosted
// Deepgram deployment).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:    conn,
		cancel:  cancel,
		results: make(chan stt.Result, 64),
		audio:   make(chan []byte, 256),
		flush:   make(chan struct{}),
		done:    make(chan struct{}),
		sendErr: make(chan error, 1),
	}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// closeStreamMsg asks Deepgram to flush and finish the stream.
var closeStreamMsg = []byte(`{"type":"CloseStream"}`)

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	results chan stt.Result
	audio   chan []byte
	flush   chan struct{}
	sendErr chan error

	mu       sync.Mutex
	halfShut bool
	err      error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram. A failure of an
// earlier write is reported by the next call.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case err := <-s.sendErr:
		return err
	default:
	}
	s.mu.Lock()
	shut := s.halfShut
	s.mu.Unlock()
	if shut {
		return stt.ErrSessionClosed
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Results returns the channel of transcripts.
func (s *session) Results() <-chan stt.Result { return s.results }

// Err returns the error that ended the read loop, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseSend stops accepting audio and asks Deepgram to finish the stream.
// Queued audio is still written before the CloseStream message.
func (s *session) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halfShut {
		return nil
	}
	s.halfShut = true
	close(s.flush)
	return nil
}

// Close terminates the session.
func (s *session) Close() error {
	s.once.Do(func() {
		_ = s.CloseSend()
		close(s.done)
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
// After CloseSend it writes whatever audio is still queued, then CloseStream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if !s.write(ctx, chunk) {
				return
			}
		case <-s.flush:
			for {
				select {
				case chunk := <-s.audio:
					if !s.write(ctx, chunk) {
						return
					}
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
					return
				}
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) write(ctx context.Context, chunk []byte) bool {
	if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		select {
		case s.sendErr <- fmt.Errorf("deepgram: write audio: %w", err):
		default:
		}
		return false
	}
	return true
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// results channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.mu.Lock()
				s.err = fmt.Errorf("deepgram: read: %w", err)
				s.mu.Unlock()
			}
			return
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.results <- r:
		case <-s.done:
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Result.
// Returns (Result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false
	}
	if resp.Type != "Results" {
		return stt.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	r := stt.Result{
		Text:      alt.Transcript,
		IsFinal:   resp.IsFinal,
		EndOffset: seconds(resp.Start + resp.Duration),
		Words:     words,
	}
	if r.IsFinal {
		r.Confidence = alt.Confidence
	}
	return r, true
}

// seconds converts fractional seconds to a Duration rounded to the millisecond.
func seconds(v float64) time.Duration {
	return (time.Duration(v*float64(time.Second)) + time.Millisecond/2).Truncate(time.Millisecond)
}
