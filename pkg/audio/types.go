package audio

import (
	"mime"
	"strings"
	"time"
)

// AudioFrame is a single block of captured audio flowing from a [Stream] to
// the recorder. Data is 16-bit signed little-endian PCM.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are given below.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for microphone capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Clip is a finished, self-contained audio object: a recorded question ready
// for upload, or a synthesised answer ready for playback.
type Clip struct {
	// MIMEType is the container/codec type (e.g., "audio/wav").
	MIMEType string

	// Data holds the encoded bytes.
	Data []byte

	// SampleRate and Channels describe the PCM inside Data when known.
	SampleRate int
	Channels   int

	// Duration is the playback length when known; zero otherwise.
	Duration time.Duration
}

// Empty reports whether the clip carries no audio bytes.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Ext returns a file extension (including the dot) suitable for c.MIMEType.
// Unknown types map to ".bin".
func (c Clip) Ext() string {
	base, _, err := mime.ParseMediaType(c.MIMEType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(c.MIMEType))
	}
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/l16":
		return ".pcm"
	}
	return ".bin"
}
