package audio

import "context"

// Playback is a handle to one in-progress playback started by a [Player].
type Playback interface {
	// Done is closed when playback ends, naturally or via Stop.
	Done() <-chan struct{}

	// Stop ends playback early. Calling Stop after Done is closed is a no-op.
	Stop() error

	// Err reports why playback ended abnormally. Only meaningful after Done
	// is closed; nil means natural completion or Stop.
	Err() error
}

// Player plays finished audio clips.
type Player interface {
	// Play starts playing c and returns immediately. ctx bounds the start-up
	// only; use the returned handle to stop or await playback.
	Play(ctx context.Context, c Clip) (Playback, error)
}
