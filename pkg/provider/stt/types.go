package stt

import "time"

// Result is one recognition result from a streaming session.
type Result struct {
	// Text is the transcript of the top alternative.
	Text string

	// IsFinal reports whether the service will not revise this result.
	IsFinal bool

	// Confidence is the top alternative's confidence (0.0–1.0). Providers only
	// fill it for final results.
	Confidence float64

	// EndOffset is the end of the recognised audio relative to the start of the
	// session that produced it.
	EndOffset time.Duration

	// Words contains per-word detail when the provider reports it.
	Words []WordDetail
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a vocabulary hint for recognition.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
