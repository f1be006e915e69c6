package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// fakeStream is an in-memory recognizeStream. Responses pushed on recv are
// returned by Recv; a value on recvErr ends the stream with that error.
type fakeStream struct {
	ctx context.Context

	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	sendErr   error
	closeSent bool

	recv    chan *speechpb.StreamingRecognizeResponse
	recvErr chan error
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:     ctx,
		recv:    make(chan *speechpb.StreamingRecognizeResponse, 16),
		recvErr: make(chan error, 1),
	}
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	select {
	case r := <-f.recv:
		return r, nil
	case err := <-f.recvErr:
		return nil, err
	case <-f.ctx.Done():
		return nil, status.Error(codes.Canceled, "context canceled")
	}
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSent = true
	return nil
}

func (f *fakeStream) requests() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*speechpb.StreamingRecognizeRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

// newTestProvider returns a Provider whose streams are fakes, plus a channel
// yielding each fake as it is opened.
func newTestProvider(t *testing.T, opts ...Option) (*Provider, <-chan *fakeStream) {
	t.Helper()
	opened := make(chan *fakeStream, 4)
	opener := func(ctx context.Context) (recognizeStream, error) {
		fs := newFakeStream(ctx)
		opened <- fs
		return fs, nil
	}
	p, err := New(context.Background(), "my-project", append(opts, withOpener(opener))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, opened
}

func TestNew_RequiresProject(t *testing.T) {
	if _, err := New(context.Background(), "", withOpener(nil)); err == nil {
		t.Fatal("expected error for empty project")
	}
}

func TestRecognizerAndEndpoint(t *testing.T) {
	p, _ := newTestProvider(t)
	if got, want := p.Recognizer(), "projects/my-project/locations/us/recognizers/_"; got != want {
		t.Errorf("recognizer: got %q, want %q", got, want)
	}
	if got, want := p.endpoint, "us-speech.googleapis.com:443"; got != want {
		t.Errorf("endpoint: got %q, want %q", got, want)
	}

	eu, _ := newTestProvider(t, WithLocation("eu"))
	if eu.endpoint != "eu-speech.googleapis.com:443" {
		t.Errorf("eu endpoint: got %q", eu.endpoint)
	}
	global, _ := newTestProvider(t, WithLocation("global"))
	if global.endpoint != "speech.googleapis.com:443" {
		t.Errorf("global endpoint: got %q", global.endpoint)
	}
	custom, _ := newTestProvider(t, WithEndpoint("localhost:9999"))
	if custom.endpoint != "localhost:9999" {
		t.Errorf("custom endpoint: got %q", custom.endpoint)
	}
}

func TestStartStream_SendsConfigFirst(t *testing.T) {
	p, opened := newTestProvider(t)

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		Language:       "de-DE",
		InterimResults: true,
		Keywords:       []stt.KeywordBoost{{Keyword: "Eldrinax", Boost: 5}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	fs := <-opened

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	reqs := fs.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}

	cfg := reqs[0].GetStreamingConfig()
	if cfg == nil {
		t.Fatal("first request must carry the streaming config")
	}
	if reqs[0].GetRecognizer() != p.Recognizer() {
		t.Errorf("recognizer: got %q", reqs[0].GetRecognizer())
	}
	rc := cfg.GetConfig()
	dec := rc.GetExplicitDecodingConfig()
	if dec.GetEncoding() != speechpb.ExplicitDecodingConfig_LINEAR16 || dec.GetSampleRateHertz() != 16000 || dec.GetAudioChannelCount() != 1 {
		t.Errorf("unexpected decoding config: %v", dec)
	}
	if got := rc.GetLanguageCodes(); len(got) != 1 || got[0] != "de-DE" {
		t.Errorf("language codes: %v", got)
	}
	if rc.GetModel() != "chirp_3" {
		t.Errorf("model: got %q", rc.GetModel())
	}
	if !cfg.GetStreamingFeatures().GetInterimResults() {
		t.Error("expected interim results enabled")
	}
	phrases := rc.GetAdaptation().GetPhraseSets()[0].GetInlinePhraseSet().GetPhrases()
	if len(phrases) != 1 || phrases[0].GetValue() != "Eldrinax" || phrases[0].GetBoost() != 5 {
		t.Errorf("unexpected phrases: %v", phrases)
	}

	if got := reqs[1].GetAudio(); len(got) != 4 {
		t.Errorf("second request should carry audio, got %v", reqs[1])
	}
}

func TestSession_DeliversResultsInOrder(t *testing.T) {
	p, opened := newTestProvider(t)
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	fs := <-opened

	fs.recv <- &speechpb.StreamingRecognizeResponse{} // no results: skipped
	fs.recv <- &speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{{
		Alternatives:    []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello", Confidence: 0.4}},
		ResultEndOffset: durationpb.New(1200 * time.Millisecond),
	}}}
	fs.recv <- &speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{{
		Alternatives:    []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello world", Confidence: 0.9}},
		IsFinal:         true,
		ResultEndOffset: durationpb.New(1800 * time.Millisecond),
	}}}

	interim := <-sess.Results()
	if interim.IsFinal || interim.Text != "hello" || interim.EndOffset != 1200*time.Millisecond {
		t.Errorf("unexpected interim: %+v", interim)
	}
	if interim.Confidence != 0 {
		t.Errorf("interim results must not carry confidence, got %f", interim.Confidence)
	}

	final := <-sess.Results()
	if !final.IsFinal || final.Text != "hello world" || final.EndOffset != 1800*time.Millisecond {
		t.Errorf("unexpected final: %+v", final)
	}
	if final.Confidence < 0.89 || final.Confidence > 0.91 {
		t.Errorf("expected confidence ~0.9, got %f", final.Confidence)
	}
}

func TestSession_CloseSendAndClose(t *testing.T) {
	p, opened := newTestProvider(t)
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	fs := <-opened

	if err := sess.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	if !fs.closeSent {
		t.Error("expected CloseSend on the underlying stream")
	}
	if err := sess.SendAudio([]byte{0, 0}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after CloseSend, got %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-sess.Results(); ok {
		t.Error("expected results channel closed after Close")
	}
	if err := sess.Err(); err != nil {
		t.Errorf("expected nil Err after orderly close, got %v", err)
	}
}

func TestSession_ReceiveErrorSurfaces(t *testing.T) {
	p, opened := newTestProvider(t)
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	fs := <-opened

	fs.recvErr <- status.Error(codes.OutOfRange, "stream duration exceeded")

	for range sess.Results() {
	}
	if status.Code(errors.Unwrap(sess.Err())) != codes.OutOfRange {
		t.Errorf("expected OutOfRange error, got %v", sess.Err())
	}
}

func TestSession_ServerEOFIsNormal(t *testing.T) {
	p, opened := newTestProvider(t)
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	fs := <-opened

	fs.recvErr <- io.EOF
	for range sess.Results() {
	}
	if err := sess.Err(); err != nil {
		t.Errorf("expected nil Err on EOF, got %v", err)
	}
}

func TestStartStream_OpenFailure(t *testing.T) {
	p, err := New(context.Background(), "proj", withOpener(func(context.Context) (recognizeStream, error) {
		return nil, errors.New("permission denied")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected StartStream error")
	}
}
