// Package google provides a Google Cloud Speech-to-Text v2 STT provider using
// the gRPC StreamingRecognize API. It implements the stt.Provider interface.
//
// Every session opens a fresh bidirectional stream, sends a
// StreamingRecognitionConfig naming the recognizer as its first request, and
// then forwards raw LINEAR16 audio. The service caps a single stream at
// roughly five minutes; longer runs are handled by the caller.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

const (
	defaultLocation   = "us"
	defaultModel      = "chirp_3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// recognizeStream is the subset of speechpb.Speech_StreamingRecognizeClient
// used by a session.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// streamOpener opens one StreamingRecognize call.
type streamOpener func(ctx context.Context) (recognizeStream, error)

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithLocation sets the recognizer location (e.g., "us", "eu", "global").
// The endpoint follows the location unless set explicitly.
func WithLocation(location string) Option {
	return func(p *Provider) {
		p.location = location
	}
}

// WithEndpoint overrides the gRPC endpoint (e.g., "us-speech.googleapis.com:443").
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithModel sets the default recognition model (e.g., "chirp_3", "long").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithClientOptions appends options passed to the underlying speech client,
// such as credentials.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// withOpener replaces the gRPC client in tests.
func withOpener(open streamOpener) Option {
	return func(p *Provider) {
		p.open = open
	}
}

// Provider implements stt.Provider backed by Cloud Speech-to-Text v2.
type Provider struct {
	projectID  string
	location   string
	endpoint   string
	model      string
	language   string
	clientOpts []option.ClientOption

	client *speech.Client
	open   streamOpener
}

// New creates a Google Provider for projectID. projectID must be non-empty.
// The speech client is created immediately; call Close to release it.
func New(ctx context.Context, projectID string, opts ...Option) (*Provider, error) {
	if projectID == "" {
		return nil, errors.New("google: projectID must not be empty")
	}
	p := &Provider{
		projectID: projectID,
		location:  defaultLocation,
		model:     defaultModel,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if p.endpoint == "" {
		p.endpoint = endpointFor(p.location)
	}

	if p.open == nil {
		clientOpts := append([]option.ClientOption{option.WithEndpoint(p.endpoint)}, p.clientOpts...)
		client, err := speech.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("google: new speech client: %w", err)
		}
		p.client = client
		p.open = func(ctx context.Context) (recognizeStream, error) {
			return client.StreamingRecognize(ctx)
		}
	}
	return p, nil
}

// endpointFor returns the regional endpoint serving location.
func endpointFor(location string) string {
	if location == "" || location == "global" {
		return "speech.googleapis.com:443"
	}
	return location + "-speech.googleapis.com:443"
}

// Recognizer returns the fully qualified recognizer resource name.
func (p *Provider) Recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.projectID, p.location)
}

// Close releases the underlying speech client.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// StartStream opens a StreamingRecognize call and sends the configuration
// request. cfg fields override the provider defaults when set.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := p.open(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("google: open stream: %w", err)
	}

	sess := &session{
		recognizer: p.Recognizer(),
		stream:     stream,
		cancel:     cancel,
		results:    make(chan stt.Result, 64),
		done:       make(chan struct{}),
	}
	if err := stream.Send(p.configRequest(cfg)); err != nil {
		cancel()
		return nil, fmt.Errorf("google: send config: %w", err)
	}

	sess.wg.Add(1)
	go sess.recvLoop(sctx)
	return sess, nil
}

// configRequest builds the handshake request for cfg.
func (p *Provider) configRequest(cfg stt.StreamConfig) *speechpb.StreamingRecognizeRequest {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = defaultChannels
	}

	rc := &speechpb.RecognitionConfig{
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(rate),
				AudioChannelCount: int32(channels),
			},
		},
		LanguageCodes: []string{lang},
		Model:         model,
	}
	if len(cfg.Keywords) > 0 {
		phrases := make([]*speechpb.PhraseSet_Phrase, 0, len(cfg.Keywords))
		for _, kw := range cfg.Keywords {
			phrases = append(phrases, &speechpb.PhraseSet_Phrase{Value: kw.Keyword, Boost: float32(kw.Boost)})
		}
		rc.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSets: []*speechpb.SpeechAdaptation_AdaptationPhraseSet{{
				Value: &speechpb.SpeechAdaptation_AdaptationPhraseSet_InlinePhraseSet{
					InlinePhraseSet: &speechpb.PhraseSet{Phrases: phrases},
				},
			}},
		}
	}

	return &speechpb.StreamingRecognizeRequest{
		Recognizer: p.Recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: rc,
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults: cfg.InterimResults,
				},
			},
		},
	}
}

// ---- session ----

// session is a live StreamingRecognize call. It implements stt.SessionHandle.
type session struct {
	recognizer string
	stream     recognizeStream
	cancel     context.CancelFunc
	results    chan stt.Result

	sendMu   sync.Mutex
	halfShut bool

	errMu sync.Mutex
	err   error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio forwards one audio chunk on the stream.
func (s *session) SendAudio(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	if s.halfShut {
		return stt.ErrSessionClosed
	}
	req := &speechpb.StreamingRecognizeRequest{
		Recognizer:       s.recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: chunk},
	}
	if err := s.stream.Send(req); err != nil {
		return fmt.Errorf("google: send audio: %w", err)
	}
	return nil
}

// Results returns the channel of recognition results.
func (s *session) Results() <-chan stt.Result { return s.results }

// Err returns the error that ended the receive loop, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// CloseSend half-closes the outbound stream.
func (s *session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.halfShut {
		return nil
	}
	s.halfShut = true
	if err := s.stream.CloseSend(); err != nil {
		return fmt.Errorf("google: close send: %w", err)
	}
	return nil
}

// Close cancels the call and waits for the receive loop to exit.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// recvLoop reads responses until the stream ends and dispatches the first
// result of each response to the results channel.
func (s *session) recvLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !isNormalEnd(ctx, err) {
				s.errMu.Lock()
				s.err = fmt.Errorf("google: receive: %w", err)
				s.errMu.Unlock()
			}
			return
		}

		r, ok := convertResponse(resp)
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

// isNormalEnd reports whether err marks an orderly end of the stream rather
// than a transport failure.
func isNormalEnd(ctx context.Context, err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	if status.Code(err) == codes.Canceled {
		return true
	}
	return ctx.Err() != nil
}

// convertResponse maps the first result of a StreamingRecognizeResponse to an
// stt.Result. Returns (zero, false) when the response carries no usable
// alternative.
func convertResponse(resp *speechpb.StreamingRecognizeResponse) (stt.Result, bool) {
	results := resp.GetResults()
	if len(results) == 0 {
		return stt.Result{}, false
	}
	res := results[0]
	alts := res.GetAlternatives()
	if len(alts) == 0 {
		return stt.Result{}, false
	}
	alt := alts[0]

	out := stt.Result{
		Text:      alt.GetTranscript(),
		IsFinal:   res.GetIsFinal(),
		EndOffset: res.GetResultEndOffset().AsDuration(),
	}
	if out.IsFinal {
		out.Confidence = float64(alt.GetConfidence())
	}
	for _, w := range alt.GetWords() {
		out.Words = append(out.Words, stt.WordDetail{
			Word:       w.GetWord(),
			Start:      w.GetStartOffset().AsDuration(),
			End:        w.GetEndOffset().AsDuration(),
			Confidence: float64(w.GetConfidence()),
		})
	}
	return out, true
}
