package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/streamscribe/pkg/provider/stt/mock"
)

var cfg16k = stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}

func TestSTTFallback_StartStream(t *testing.T) {
	t.Run("primary serves", func(t *testing.T) {
		primary := &sttmock.Provider{}
		secondary := &sttmock.Provider{}
		fb := NewSTTFallback(primary, "google", FallbackConfig{}, nil)
		fb.AddFallback("deepgram", secondary)

		handle, err := fb.StartStream(t.Context(), cfg16k)
		if err != nil {
			t.Fatalf("StartStream: %v", err)
		}
		defer handle.Close()
		if primary.SessionCount() != 1 || secondary.SessionCount() != 0 {
			t.Errorf("sessions primary=%d secondary=%d, want 1/0", primary.SessionCount(), secondary.SessionCount())
		}
		if primary.Session(0).Config.Language != "en-US" {
			t.Errorf("config not forwarded: %+v", primary.Session(0).Config)
		}
	})

	t.Run("fails over", func(t *testing.T) {
		primary := &sttmock.Provider{StartStreamErr: errors.New("unavailable")}
		secondary := &sttmock.Provider{}
		fb := NewSTTFallback(primary, "google", FallbackConfig{}, nil)
		fb.AddFallback("deepgram", secondary)

		handle, err := fb.StartStream(t.Context(), cfg16k)
		if err != nil {
			t.Fatalf("StartStream: %v", err)
		}
		defer handle.Close()
		if secondary.SessionCount() != 1 {
			t.Errorf("secondary sessions = %d, want 1", secondary.SessionCount())
		}
	})

	t.Run("all fail", func(t *testing.T) {
		fb := NewSTTFallback(&sttmock.Provider{StartStreamErr: errors.New("a")}, "google", FallbackConfig{}, nil)
		fb.AddFallback("deepgram", &sttmock.Provider{StartStreamErr: errors.New("b")})

		if _, err := fb.StartStream(t.Context(), cfg16k); !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}

func TestSTTFallback_RecordsAttempts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fb := NewSTTFallback(&sttmock.Provider{StartStreamErr: errors.New("down")}, "google", FallbackConfig{}, m)
	fb.AddFallback("deepgram", &sttmock.Provider{})
	handle, err := fb.StartStream(t.Context(), cfg16k)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = handle.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "streamscribe.provider.requests" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				got[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	if got["google/error"] != 1 || got["deepgram/ok"] != 1 {
		t.Errorf("provider requests = %v, want google/error=1 deepgram/ok=1", got)
	}
}
