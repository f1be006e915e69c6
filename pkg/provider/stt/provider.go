// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time recognition service (e.g., Google Cloud
// Speech-to-Text v2 or Deepgram) reached through a bidirectional stream. The
// central abstraction is SessionHandle: opening one sends the configuration
// handshake; afterwards the session accepts raw PCM audio and emits an
// ordered stream of Result values, interim and final interleaved exactly as
// the service produced them.
//
// Sessions are bounded: most services cap a single stream at a few minutes.
// Sustaining longer runs is the job of the caller (see internal/stream), not
// of the provider. Providers never retry or reconnect internally.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after CloseSend or Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// ErrNotSupported is returned by optional operations a provider cannot perform.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and recognition settings sent as the
// first message of every session. All fields must be compatible with what the
// underlying provider supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default.
	Language string

	// Model selects a provider model (e.g., "chirp_3", "nova-3"). Empty selects
	// the provider default.
	Model string

	// InterimResults requests provisional, overwritable results in addition to
	// finals.
	InterimResults bool

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents one open streaming session. It is an interface so
// that test code can provide mock implementations without a live connection.
//
// Results and Err are read by one goroutine; SendAudio and CloseSend by
// another. Close may be called from any goroutine.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. The chunk must
	// match the format agreed in StreamConfig. It returns ErrSessionClosed after
	// CloseSend or Close, and the transport error if the send failed.
	SendAudio(chunk []byte) error

	// Results returns the channel of recognition results in arrival order.
	// There is no 1:1 mapping between audio chunks and results. The channel is
	// closed when the inbound half of the stream ends.
	Results() <-chan Result

	// Err returns the error that ended the inbound stream, or nil when it ended
	// normally (server completion, CloseSend, or Close). Only meaningful after
	// Results has been closed.
	Err() error

	// CloseSend half-closes the outbound direction, telling the service no more
	// audio follows. Results may continue to arrive until the service finishes.
	CloseSend() error

	// Close tears the session down and releases its resources. After Close
	// returns, the Results channel is closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new session and sends cfg as its first message. The
	// returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, ctx already cancelled). The caller
	// owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
