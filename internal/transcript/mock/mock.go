// Package mock provides a recording implementation of transcript.Sink for
// tests.
package mock

import (
	"sync"
	"time"
)

// Kinds of recorded entries.
const (
	KindInterim = "interim"
	KindFinal   = "final"
	KindBreak   = "break"
	KindRestart = "restart"
	KindError   = "error"
)

// Entry is one recorded Sink call.
type Entry struct {
	Kind       string
	Elapsed    time.Duration
	Text       string
	Confidence float64
	Err        error
}

// Sink records every call. It is safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *Sink) record(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *Sink) Interim(elapsed time.Duration, text string) {
	s.record(Entry{Kind: KindInterim, Elapsed: elapsed, Text: text})
}

func (s *Sink) Final(elapsed time.Duration, text string, confidence float64) {
	s.record(Entry{Kind: KindFinal, Elapsed: elapsed, Text: text, Confidence: confidence})
}

func (s *Sink) Break() { s.record(Entry{Kind: KindBreak}) }

func (s *Sink) Restart(mark time.Duration) { s.record(Entry{Kind: KindRestart, Elapsed: mark}) }

func (s *Sink) Error(err error) { s.record(Entry{Kind: KindError, Err: err}) }

// Entries returns a copy of everything recorded so far.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Kinds returns the entry kinds in order.
func (s *Sink) Kinds() []string {
	entries := s.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

// Finals returns only the final entries.
func (s *Sink) Finals() []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Kind == KindFinal {
			out = append(out, e)
		}
	}
	return out
}
