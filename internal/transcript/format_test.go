package transcript

import "testing"

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "00:00 /"},
		{1000, "00:01 /"},
		{60000, "01:00 /"},
		{65000, "01:05 /"},
		{999, "00:00 /"},
		{290000, "04:50 /"},
		{6000000, "100:00 /"},
		{-5, "00:00 /"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.ms); got != tt.want {
			t.Errorf("FormatElapsed(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
