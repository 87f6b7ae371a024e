package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data on a streaming channel
// is no longer needed (e.g. reply audio for a call that has already hung up).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
