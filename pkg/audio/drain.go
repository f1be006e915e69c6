package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to keep a producer goroutine from blocking on a channel whose
// consumer has gone away, such as the results of a detached session.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
