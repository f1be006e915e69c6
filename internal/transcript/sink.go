package transcript

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Sink renders the transcript. The [Aggregator] calls it from a single
// goroutine, in timeline order.
type Sink interface {
	// Interim replaces the in-progress line with text.
	Interim(elapsed time.Duration, text string)

	// Final commits text and closes the in-progress line.
	Final(elapsed time.Duration, text string, confidence float64)

	// Break closes an in-progress line that will not be finalised.
	Break()

	// Restart marks a session seam at the given run-wide time.
	Restart(mark time.Duration)

	// Error reports a fatal receive error.
	Error(err error)
}

// ANSI escape sequences used by [TerminalSink].
const (
	ansiRed       = "\033[0;31m"
	ansiGreen     = "\033[0;32m"
	ansiYellow    = "\033[0;33m"
	ansiReset     = "\033[0m"
	ansiClearLine = "\033[2K\r"
)

// TerminalSink writes a live transcript to a terminal. Interim results are
// redrawn in place in red; finals are committed in green with their
// confidence; seams are announced in yellow.
type TerminalSink struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// TerminalOption configures a [TerminalSink].
type TerminalOption func(*TerminalSink)

// WithColor enables or disables ANSI colors and line clearing. Enabled by
// default; disable it when the output is not a terminal.
func WithColor(enabled bool) TerminalOption {
	return func(s *TerminalSink) { s.color = enabled }
}

// NewTerminalSink returns a sink writing to w.
func NewTerminalSink(w io.Writer, opts ...TerminalOption) *TerminalSink {
	s := &TerminalSink{w: w, color: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *TerminalSink) Interim(elapsed time.Duration, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printf(ansiRed, "%s: %s", FormatElapsed(elapsed.Milliseconds()), text)
}

func (s *TerminalSink) Final(elapsed time.Duration, text string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printf(ansiGreen, "%s: %s [confidence: %.2f]\n", FormatElapsed(elapsed.Milliseconds()), text, confidence)
}

func (s *TerminalSink) Break() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, "\n")
}

func (s *TerminalSink) Restart(mark time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.color {
		fmt.Fprint(s.w, ansiYellow+"\n")
	}
	fmt.Fprintf(s.w, "%d: RESTARTING REQUEST\n", mark.Milliseconds())
}

func (s *TerminalSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.color {
		fmt.Fprint(s.w, ansiReset)
	}
	fmt.Fprintf(s.w, "Error: %v\n", err)
}

// printf writes one transcript line, starting with the color and a clear of
// the current terminal line when colors are on, or a bare carriage return
// otherwise.
func (s *TerminalSink) printf(color, format string, args ...any) {
	if s.color {
		fmt.Fprint(s.w, color+ansiClearLine)
	} else {
		fmt.Fprint(s.w, "\r")
	}
	fmt.Fprintf(s.w, format, args...)
}

var _ Sink = (*TerminalSink)(nil)
