package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Recorders use it after stopping tracks so a producer blocked on a full
// frame channel can observe the stop and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
