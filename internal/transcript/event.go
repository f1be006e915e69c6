// Package transcript turns the raw per-session recognition results of an
// endless stream into one continuous transcript.
//
// Each session reports result end times relative to its own start. Sessions
// are replaced at a fixed duration limit and begin with a replay of the
// previous session's unacknowledged audio, so a result's position on the
// run-wide timeline is
//
//	elapsed = endOffset - bridgingOffset + durationLimit*epoch
//
// The [Aggregator] applies that correction, classifies each result as interim
// or final, renders it through a [Sink], and answers each restart [Seam] with
// the end time of the ending session's last final result.
package transcript

import (
	"time"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// Event is one inbound item on the aggregator's channel: a result or the
// error that ended a session's receive side, both from a session's receive
// pump, or a seam marker queued by the session manager.
type Event struct {
	// Result is the recognizer output. Unset when Err is non-nil.
	Result stt.Result

	// Err is the terminal receive error of the session.
	Err error

	// Epoch is the restart counter of the session that produced the event.
	Epoch int

	// BridgingOffset is the amount of replayed audio at the start of the
	// producing session.
	BridgingOffset time.Duration

	// Seam, when set, marks a restart. All other fields are ignored.
	Seam *Seam
}

// Elapsed returns the event's end time on the run-wide timeline, at
// millisecond resolution.
func (e Event) Elapsed(limit time.Duration) time.Duration {
	end := e.Result.EndOffset.Truncate(time.Millisecond)
	return end - e.BridgingOffset + limit*time.Duration(e.Epoch)
}

// Ack reports the end offset of the latest final result of a session. The
// session manager uses the ack of the closing session to decide how much
// audio must be replayed into the next one.
type Ack struct {
	Epoch     int
	EndOffset time.Duration
}

// Seam is queued behind the last event of a replaced session. Once every
// event before it has been rendered, the aggregator announces the restart and
// sends the replaced session's [Ack] on Done.
type Seam struct {
	// Epoch is the epoch of the replacing session.
	Epoch int

	// Done receives exactly one Ack. It must have a buffer of one.
	Done chan Ack
}

// NewSeam returns a seam marker for the session with the given epoch.
func NewSeam(epoch int) *Seam {
	return &Seam{Epoch: epoch, Done: make(chan Ack, 1)}
}

// Failure is a fatal receive error of the session with the given epoch.
type Failure struct {
	Epoch int
	Err   error
}
