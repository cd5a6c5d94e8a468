// Package wav encodes captured PCM into RIFF/WAVE containers and parses the
// header of WAVE payloads returned by the backend.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

// MIMEType is the media type produced by [Encoder].
const MIMEType = "audio/wav"

const (
	headerSize    = 44
	bitsPerSample = 16
	formatPCM     = 1
)

// ErrNotWAV is returned by [Parse] for payloads that are not RIFF/WAVE.
var ErrNotWAV = errors.New("wav: not a RIFF/WAVE payload")

// Encoder is an [audio.Encoder] that buffers raw PCM chunks and wraps them in
// a canonical 44-byte WAV header on Finalize.
type Encoder struct{}

var _ audio.Encoder = Encoder{}

// MIMEType implements [audio.Encoder].
func (Encoder) MIMEType() string { return MIMEType }

// EncodeChunk implements [audio.Encoder]. WAV chunks are raw PCM; the header
// is only known once the total length is.
func (Encoder) EncodeChunk(f audio.AudioFrame) ([]byte, error) {
	return bytes.Clone(f.Data), nil
}

// Finalize implements [audio.Encoder].
func (Encoder) Finalize(chunks [][]byte, format audio.Format) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("wav: finalize: invalid format %+v", format)
	}
	return Encode(bytes.Join(chunks, nil), format.SampleRate, format.Channels), nil
}

// Encode wraps 16-bit little-endian PCM in a WAV header.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// Info describes a parsed WAVE payload.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Data is the PCM payload of the "data" chunk. It aliases the input.
	Data []byte
}

// Duration returns the playback length of the PCM payload.
func (i Info) Duration() time.Duration {
	frameBytes := i.Channels * i.BitsPerSample / 8
	if frameBytes == 0 || i.SampleRate == 0 {
		return 0
	}
	frames := len(i.Data) / frameBytes
	return time.Duration(frames) * time.Second / time.Duration(i.SampleRate)
}

// Parse walks the RIFF chunks of data, reading the "fmt " chunk and locating
// the "data" chunk. Unknown chunks (LIST, fact, ...) are skipped. A data chunk
// whose declared size overruns the payload is truncated to what is present,
// which is what streaming encoders emit when they cannot seek back.
func Parse(data []byte) (Info, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var (
		info   Info
		sawFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Info{}, fmt.Errorf("wav: parse: truncated fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			if !sawFmt {
				return Info{}, fmt.Errorf("wav: parse: data chunk before fmt chunk")
			}
			end := min(body+size, len(data))
			info.Data = data[body:end]
			return info, nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}
	return Info{}, fmt.Errorf("wav: parse: no data chunk")
}

// Clip parses data and returns it as an [audio.Clip] with format metadata
// filled in. Payloads that do not parse are returned with only the MIME type
// and bytes set.
func Clip(data []byte) audio.Clip {
	c := audio.Clip{MIMEType: MIMEType, Data: data}
	info, err := Parse(data)
	if err != nil {
		return c
	}
	c.SampleRate = info.SampleRate
	c.Channels = info.Channels
	c.Duration = info.Duration()
	return c
}
