package transcript_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/transcript"
	"github.com/MrWong99/streamscribe/internal/transcript/mock"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

const limit = 10 * time.Second

func newAggregator(t *testing.T) (*transcript.Aggregator, *mock.Sink) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	sink := &mock.Sink{}
	return transcript.NewAggregator(sink, transcript.WithDurationLimit(limit), transcript.WithMetrics(m)), sink
}

// runAll feeds events to a fresh aggregator and waits for it to finish.
func runAll(t *testing.T, agg *transcript.Aggregator, events ...transcript.Event) {
	t.Helper()
	ch := make(chan transcript.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	if err := agg.Run(t.Context(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func result(text string, final bool, endMs int, conf float64) stt.Result {
	return stt.Result{Text: text, IsFinal: final, EndOffset: time.Duration(endMs) * time.Millisecond, Confidence: conf}
}

func TestEvent_Elapsed(t *testing.T) {
	tests := []struct {
		name string
		ev   transcript.Event
		want time.Duration
	}{
		{"first session", transcript.Event{Result: result("", true, 1500, 0)}, 1500 * time.Millisecond},
		{"after restart", transcript.Event{Result: result("", true, 1500, 0), Epoch: 2, BridgingOffset: 400 * time.Millisecond}, 21100 * time.Millisecond},
		{"sub-millisecond truncated", transcript.Event{Result: stt.Result{EndOffset: 1500*time.Millisecond + 700*time.Microsecond}}, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Elapsed(limit); got != tt.want {
				t.Errorf("Elapsed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_InterimThenFinal(t *testing.T) {
	agg, sink := newAggregator(t)

	runAll(t, agg,
		transcript.Event{Result: result("hel", false, 300, 0.1)},
		transcript.Event{Result: result("hello", false, 600, 0.2)},
		transcript.Event{Result: result("hello world", true, 900, 0.93)},
	)

	want := []mock.Entry{
		{Kind: mock.KindInterim, Elapsed: 300 * time.Millisecond, Text: "hel"},
		{Kind: mock.KindInterim, Elapsed: 600 * time.Millisecond, Text: "hello"},
		{Kind: mock.KindFinal, Elapsed: 900 * time.Millisecond, Text: "hello world", Confidence: 0.93},
	}
	if diff := cmp.Diff(want, sink.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_SeamReportsLatestFinal(t *testing.T) {
	agg, sink := newAggregator(t)
	seam := transcript.NewSeam(1)

	runAll(t, agg,
		transcript.Event{Result: result("one", true, 400, 0.9)},
		transcript.Event{Result: result("two", true, 800, 0.9)},
		transcript.Event{Result: result("three", false, 1000, 0)},
		transcript.Event{Seam: seam},
	)

	select {
	case ack := <-seam.Done:
		if ack != (transcript.Ack{Epoch: 0, EndOffset: 800 * time.Millisecond}) {
			t.Errorf("ack = %+v, want epoch 0 at 800ms", ack)
		}
	default:
		t.Fatal("seam was not acknowledged")
	}
	want := []string{mock.KindFinal, mock.KindFinal, mock.KindInterim, mock.KindBreak, mock.KindRestart}
	if diff := cmp.Diff(want, sink.Kinds()); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_SeamWithoutFinal(t *testing.T) {
	tests := []struct {
		name   string
		events []transcript.Event
	}{
		{"no results", nil},
		{"only interims", []transcript.Event{{Result: result("uh", false, 300, 0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, _ := newAggregator(t)
			seam := transcript.NewSeam(1)
			runAll(t, agg, append(tt.events, transcript.Event{Seam: seam})...)
			if ack := <-seam.Done; ack != (transcript.Ack{}) {
				t.Errorf("ack = %+v, want zero", ack)
			}
		})
	}
}

func TestAggregator_QueuedFinalRenderedBeforeSeam(t *testing.T) {
	for trial := range 200 {
		agg, sink := newAggregator(t)
		seam := transcript.NewSeam(1)

		runAll(t, agg,
			transcript.Event{Result: result("last words", true, 2400, 0.9)},
			transcript.Event{Seam: seam},
			transcript.Event{Result: result("fresh", true, 200, 0.9), Epoch: 1},
		)

		var texts []string
		for _, f := range sink.Finals() {
			texts = append(texts, f.Text)
		}
		if diff := cmp.Diff([]string{"last words", "fresh"}, texts); diff != "" {
			t.Fatalf("trial %d: finals mismatch (-want +got):\n%s", trial, diff)
		}
		if ack := <-seam.Done; ack.EndOffset != 2400*time.Millisecond {
			t.Fatalf("trial %d: ack = %+v, want 2400ms", trial, ack)
		}
	}
}

func TestAggregator_NewEpochClosesOpenLine(t *testing.T) {
	agg, sink := newAggregator(t)

	runAll(t, agg,
		transcript.Event{Result: result("half a sen", false, 9800, 0)},
		transcript.Event{Result: result("half a sentence", true, 600, 0.8), Epoch: 1, BridgingOffset: 200 * time.Millisecond},
	)

	want := []mock.Entry{
		{Kind: mock.KindInterim, Elapsed: 9800 * time.Millisecond, Text: "half a sen"},
		{Kind: mock.KindBreak},
		{Kind: mock.KindRestart, Elapsed: limit},
		{Kind: mock.KindFinal, Elapsed: 10400 * time.Millisecond, Text: "half a sentence", Confidence: 0.8},
	}
	if diff := cmp.Diff(want, sink.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_RestartNotice(t *testing.T) {
	agg, sink := newAggregator(t)
	skip := transcript.NewSeam(2)
	stale := transcript.NewSeam(1)

	runAll(t, agg,
		transcript.Event{Result: result("open", false, 500, 0)},
		transcript.Event{Seam: skip},
		transcript.Event{Result: result("next", true, 300, 0.7), Epoch: 2},
		// A seam for an epoch already shown is acknowledged but not announced.
		transcript.Event{Seam: stale},
	)

	want := []string{
		mock.KindInterim, mock.KindBreak, mock.KindRestart, mock.KindRestart, mock.KindFinal,
	}
	if diff := cmp.Diff(want, sink.Kinds()); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	entries := sink.Entries()
	if entries[2].Elapsed != limit || entries[3].Elapsed != 2*limit {
		t.Errorf("restart marks = %v, %v", entries[2].Elapsed, entries[3].Elapsed)
	}
	if ack := <-stale.Done; ack != (transcript.Ack{Epoch: 2, EndOffset: 300 * time.Millisecond}) {
		t.Errorf("stale seam ack = %+v", ack)
	}
}

func TestAggregator_DropsStaleEpoch(t *testing.T) {
	agg, sink := newAggregator(t)

	runAll(t, agg,
		transcript.Event{Result: result("new", true, 200, 0.9), Epoch: 1},
		transcript.Event{Result: result("late old", true, 9900, 0.9), Epoch: 0},
	)

	finals := sink.Finals()
	if len(finals) != 1 || finals[0].Text != "new" {
		t.Errorf("finals = %+v, want only the current epoch", finals)
	}
}

func TestAggregator_ErrorEscalates(t *testing.T) {
	agg, sink := newAggregator(t)
	boom := errors.New("stream reset")

	runAll(t, agg,
		transcript.Event{Result: result("par", false, 100, 0)},
		transcript.Event{Err: boom},
		transcript.Event{Err: errors.New("second")},
	)

	want := []mock.Entry{
		{Kind: mock.KindInterim, Elapsed: 100 * time.Millisecond, Text: "par"},
		{Kind: mock.KindBreak},
		{Kind: mock.KindError, Err: boom},
		{Kind: mock.KindError},
	}
	if diff := cmp.Diff(want, sink.Entries(), cmpopts.IgnoreFields(mock.Entry{}, "Err")); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	f := <-agg.Failures()
	if !errors.Is(f.Err, boom) {
		t.Errorf("failure = %v, want the first error", f.Err)
	}
}

func TestAggregator_ClosesLineAtEnd(t *testing.T) {
	agg, sink := newAggregator(t)

	runAll(t, agg, transcript.Event{Result: result("trailing", false, 100, 0)})

	if diff := cmp.Diff([]string{mock.KindInterim, mock.KindBreak}, sink.Kinds()); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_StopsOnCancel(t *testing.T) {
	agg, _ := newAggregator(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := agg.Run(ctx, make(chan transcript.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
