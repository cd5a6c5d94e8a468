// Package audio defines the media capability interfaces and value types used
// by spibot's capture and playback layers.
//
// The capture side is modelled on a browser-style media stack:
//
//   - [Device] acquires the microphone and returns a [Stream].
//   - [Stream] exposes its [Track] handles and a channel of PCM frames.
//   - [Encoder] turns frames into encoded chunks and finalises a [Clip].
//
// The playback side is a single [Player] capability returning a [Playback]
// handle with a completion channel.
//
// Concrete implementations live in sub-packages (audio/command for real
// devices, audio/mock for tests). The interfaces are intentionally narrow so
// that deterministic test doubles can stand in for hardware.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by [Device.Open] when the user or the
	// operating system refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Device.Open] when no usable capture
	// device exists.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// Constraints is the quality configuration requested when acquiring a
// microphone stream.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// Format returns the PCM format requested by c.
func (c Constraints) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Track is one media track of an acquired [Stream]. Stopping a track releases
// the underlying hardware for that track.
//
// Stop must be idempotent and safe for concurrent use.
type Track interface {
	ID() string
	Stop()
}

// Stream is an acquired microphone stream.
//
// Frames delivers captured audio until every track has been stopped, after
// which the channel is closed. Callers that stop reading early should
// [Drain] the channel so the producer can exit.
type Stream interface {
	Tracks() []Track
	Frames() <-chan AudioFrame
}

// Device acquires microphone streams.
type Device interface {
	// Open requests a stream honouring c. The call may block while the user is
	// asked for permission; it must respect ctx cancellation.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// StopAll stops every track of s. It is safe to call with a nil stream.
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
