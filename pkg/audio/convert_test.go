package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/streamscribe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestEncodePCM16(t *testing.T) {
	t.Run("mono downmix", func(t *testing.T) {
		in := [][2]float64{{1, 1}, {-1, -1}, {0.5, -0.5}, {0, 0}}
		got := bytesToSamples(audio.EncodePCM16(in, 1))
		want := []int16{32767, -32768, 0, 0}
		if len(got) != len(want) {
			t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("stereo keeps channels", func(t *testing.T) {
		in := [][2]float64{{1, -1}}
		got := bytesToSamples(audio.EncodePCM16(in, 2))
		if len(got) != 2 || got[0] != 32767 || got[1] != -32768 {
			t.Errorf("got %v, want [32767 -32768]", got)
		}
	})

	t.Run("clamps out of range", func(t *testing.T) {
		in := [][2]float64{{3, 3}, {-7, -7}}
		got := bytesToSamples(audio.EncodePCM16(in, 1))
		if got[0] != 32767 || got[1] != -32768 {
			t.Errorf("got %v, want [32767 -32768]", got)
		}
	})
}

func TestPCMDuration(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		rate, ch int
		wantMs   int64
	}{
		{"default quantum", audio.DefaultFrameBytes, 16000, 1, 200},
		{"one second", 32000, 16000, 1, 1000},
		{"stereo halves duration", 6400, 16000, 2, 100},
		{"unknown format", 6400, 0, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.PCMDuration(tc.n, tc.rate, tc.ch).Milliseconds()
			if got != tc.wantMs {
				t.Errorf("got %dms, want %dms", got, tc.wantMs)
			}
		})
	}
}
