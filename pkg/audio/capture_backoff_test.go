package audio

import (
	"testing"
	"time"
)

func TestCaptureBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 10 * time.Millisecond},
		{3, 20 * time.Millisecond},
		{5, 80 * time.Millisecond},
		{8, 640 * time.Millisecond},
		{9, time.Second},
		{1000, time.Second},
	}
	for _, tt := range tests {
		if got := captureBackoff(tt.failures); got != tt.want {
			t.Errorf("captureBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}
