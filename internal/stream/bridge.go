package stream

import "time"

// BridgePlan describes how much of the previous session's audio to replay
// into a new session, and the bridging offset that results.
type BridgePlan struct {
	// Chunk is the duration attributed to each history frame: the duration
	// limit divided evenly across the history, in whole milliseconds.
	Chunk time.Duration

	// Clamped is the incoming bridging offset limited to [0, finalAck].
	Clamped time.Duration

	// From is the index of the first history frame to replay. Frames
	// history[From:] are resent, in order.
	From int

	// Offset is the bridging offset of the new session: the duration of the
	// replayed frames.
	Offset time.Duration
}

// Replay returns the number of frames the plan resends for a history of n
// frames.
func (p BridgePlan) Replay(n int) int { return n - p.From }

// Bridge computes the replay for a new session. historyLen is the number of
// frames the previous session received from capture, offset the bridging
// offset carried into it, and finalAck the end offset of its last final
// result (zero if it produced none).
//
// The arithmetic is in integer milliseconds. ok is false when there is
// nothing to replay: an empty history or a history so long that a frame
// rounds to zero milliseconds. The caller then keeps its offset unchanged.
func Bridge(limit time.Duration, historyLen int, offset, finalAck time.Duration) (plan BridgePlan, ok bool) {
	if historyLen <= 0 {
		return BridgePlan{}, false
	}
	chunkMs := limit.Milliseconds() / int64(historyLen)
	if chunkMs == 0 {
		return BridgePlan{}, false
	}

	ackMs := max(finalAck.Milliseconds(), 0)
	offMs := min(max(offset.Milliseconds(), 0), ackMs)

	from := int((ackMs - offMs) / chunkMs)
	from = min(max(from, 0), historyLen)

	return BridgePlan{
		Chunk:   time.Duration(chunkMs) * time.Millisecond,
		Clamped: time.Duration(offMs) * time.Millisecond,
		From:    from,
		Offset:  time.Duration(int64(historyLen-from)*chunkMs) * time.Millisecond,
	}, true
}
