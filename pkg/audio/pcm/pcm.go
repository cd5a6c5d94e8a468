// Package pcm provides a raw linear PCM encoder producing "audio/L16"
// payloads (RFC 2586: 16-bit signed, network byte order).
package pcm

import (
	"bytes"
	"fmt"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

// MIMEType is the base media type produced by [Encoder].
const MIMEType = "audio/L16"

// Encoder is an [audio.Encoder] that emits headerless big-endian PCM.
type Encoder struct{}

var _ audio.Encoder = Encoder{}

// MIMEType implements [audio.Encoder].
func (Encoder) MIMEType() string { return MIMEType }

// EncodeChunk implements [audio.Encoder]. The little-endian capture samples
// are byte-swapped to network order.
func (Encoder) EncodeChunk(f audio.AudioFrame) ([]byte, error) {
	if len(f.Data)%2 != 0 {
		return nil, fmt.Errorf("pcm: encode chunk: odd byte count %d", len(f.Data))
	}
	out := make([]byte, len(f.Data))
	for i := 0; i < len(f.Data); i += 2 {
		out[i], out[i+1] = f.Data[i+1], f.Data[i]
	}
	return out, nil
}

// Finalize implements [audio.Encoder].
func (Encoder) Finalize(chunks [][]byte, _ audio.Format) ([]byte, error) {
	return bytes.Join(chunks, nil), nil
}

// ContentType returns the full media type for f, including the rate and
// channel parameters L16 receivers need.
func ContentType(f audio.Format) string {
	return fmt.Sprintf("%s;rate=%d;channels=%d", MIMEType, f.SampleRate, f.Channels)
}
