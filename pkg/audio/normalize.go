package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Normalizer converts captured frames to a fixed PCM format. Microphones do not
// always honour the requested [Constraints], so the recorder runs every frame
// through a Normalizer before encoding.
//
// Create one per capture session; it is not safe for concurrent use.
type Normalizer struct {
	Target Format

	warnOnce sync.Once
}

// NewNormalizer returns a Normalizer targeting f.
func NewNormalizer(f Format) *Normalizer {
	return &Normalizer{Target: f}
}

// Normalize converts frame to n.Target. Frames already in the target format
// are returned as-is. A frame with an odd byte count cannot be 16-bit PCM and
// is replaced by an empty frame.
func (n *Normalizer) Normalize(frame AudioFrame) AudioFrame {
	out := AudioFrame{
		SampleRate: n.Target.SampleRate,
		Channels:   n.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
	if len(frame.Data)%2 != 0 {
		slog.Warn("audio: dropping misaligned pcm frame", "bytes", len(frame.Data))
		return out
	}
	if frame.SampleRate == n.Target.SampleRate && frame.Channels == n.Target.Channels {
		return frame
	}
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		// Unknown source format: trust the device and relabel.
		out.Data = frame.Data
		return out
	}

	n.warnOnce.Do(func() {
		slog.Warn("audio: device format differs from requested, converting",
			"from", formatLabel(Format{frame.SampleRate, frame.Channels}),
			"to", formatLabel(n.Target),
		)
	})

	samples := decode16(frame.Data)
	samples = remix(samples, frame.Channels, n.Target.Channels)
	samples = resample(samples, n.Target.Channels, frame.SampleRate, n.Target.SampleRate)
	out.Data = encode16(samples)
	return out
}

// remix converts interleaved samples from one channel count to another. Down
// mixing averages all source channels; up mixing copies the averaged value
// into every output channel.
func remix(in []int16, from, to int) []int16 {
	if from == to {
		return in
	}
	frames := len(in) / from
	out := make([]int16, frames*to)
	for i := range frames {
		var sum int32
		for c := range from {
			sum += int32(in[i*from+c])
		}
		v := int16(sum / int32(from))
		for c := range to {
			out[i*to+c] = v
		}
	}
	return out
}

// resample performs linear interpolation on interleaved samples.
func resample(in []int16, channels, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	srcFrames := len(in) / channels
	dstFrames := int(int64(srcFrames) * int64(to) / int64(from))
	if dstFrames == 0 {
		return nil
	}
	out := make([]int16, dstFrames*channels)
	ratio := float64(from) / float64(to)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			a := float64(in[idx*channels+c])
			b := float64(in[next*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}

func decode16(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return s
}

func encode16(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func formatLabel(f Format) string {
	ch := "mono"
	switch f.Channels {
	case 1:
	case 2:
		ch = "stereo"
	default:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
