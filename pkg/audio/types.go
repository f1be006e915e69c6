// Package audio defines the capture side of a streaming transcription run:
// the [AudioFrame] unit, the blocking [Source] abstraction, and the bounded
// [FrameQueue] that decouples capture timing from network timing.
//
// The pipeline assumes a fixed-rate, fixed-width PCM stream. Every frame
// carries exactly one capture quantum ([DefaultFrameBytes] unless configured
// otherwise) of little-endian signed 16-bit samples.
package audio

import "time"

const (
	// DefaultSampleRate is the capture rate in Hz expected by the recognizers.
	DefaultSampleRate = 16000

	// DefaultChannels is the capture channel count (mono).
	DefaultChannels = 1

	// DefaultFrameBytes is one capture quantum: 200 ms of 16 kHz/16-bit mono PCM.
	DefaultFrameBytes = 6400

	// bytesPerSample is the width of one PCM16 sample.
	bytesPerSample = 2
)

// AudioFrame represents a single capture quantum flowing from a [Source] to
// the session manager. Frames are immutable once enqueued.
type AudioFrame struct {
	// PCM audio data (little-endian int16).
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. It returns zero when the
// frame format is unknown.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// PCMDuration returns the playback length of n bytes of PCM16 audio at the
// given rate and channel count.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (bytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
