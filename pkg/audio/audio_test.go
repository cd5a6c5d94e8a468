package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

// ── helpers ─────────────────────────────────────────────────────────────────

func samplesToBytes(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func bytesToSamples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return s
}

type stubEncoder string

func (s stubEncoder) MIMEType() string { return string(s) }

func (stubEncoder) EncodeChunk(f audio.AudioFrame) ([]byte, error) { return f.Data, nil }

func (stubEncoder) Finalize([][]byte, audio.Format) ([]byte, error) { return nil, nil }

// ── SelectEncoder ───────────────────────────────────────────────────────────

func TestSelectEncoder(t *testing.T) {
	t.Parallel()

	ranked := []string{"audio/webm", "audio/mp4", "audio/wav", "audio/L16"}

	tests := []struct {
		name      string
		available []audio.Encoder
		want      string
		wantErr   bool
	}{
		{
			name:      "first ranked wins",
			available: []audio.Encoder{stubEncoder("audio/wav"), stubEncoder("audio/webm")},
			want:      "audio/webm",
		},
		{
			name:      "falls through to lower rank",
			available: []audio.Encoder{stubEncoder("audio/L16"), stubEncoder("audio/wav")},
			want:      "audio/wav",
		},
		{
			name:      "matching ignores case and params",
			available: []audio.Encoder{stubEncoder("Audio/MP4; codecs=mp4a")},
			want:      "Audio/MP4; codecs=mp4a",
		},
		{
			name:      "nothing supported",
			available: []audio.Encoder{stubEncoder("audio/flac")},
			wantErr:   true,
		},
		{
			name:    "no encoders",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enc, err := audio.SelectEncoder(ranked, tt.available)
			if tt.wantErr {
				if !errors.Is(err, audio.ErrNoSupportedFormat) {
					t.Fatalf("got err %v, want ErrNoSupportedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc.MIMEType() != tt.want {
				t.Errorf("got %q, want %q", enc.MIMEType(), tt.want)
			}
		})
	}
}

// ── Clip ────────────────────────────────────────────────────────────────────

func TestClipExt(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"audio/wav":                ".wav",
		"audio/x-wav":              ".wav",
		"audio/webm;codecs=opus":   ".webm",
		"audio/mpeg":               ".mp3",
		"audio/L16; rate=44100":    ".pcm",
		"application/octet-stream": ".bin",
		"":                         ".bin",
	}
	for mt, want := range tests {
		if got := (audio.Clip{MIMEType: mt}).Ext(); got != want {
			t.Errorf("Ext(%q) = %q, want %q", mt, got, want)
		}
	}
}

func TestClipEmpty(t *testing.T) {
	t.Parallel()
	if !(audio.Clip{MIMEType: "audio/wav"}).Empty() {
		t.Error("clip without data should be empty")
	}
	if (audio.Clip{Data: []byte{0}}).Empty() {
		t.Error("clip with data should not be empty")
	}
}

// ── Normalizer ──────────────────────────────────────────────────────────────

func TestNormalize_Passthrough(t *testing.T) {
	t.Parallel()

	n := audio.NewNormalizer(audio.Format{SampleRate: 44100, Channels: 1})
	in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2, 3}), SampleRate: 44100, Channels: 1}
	out := n.Normalize(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should return the original buffer")
	}
}

func TestNormalize_Downmix(t *testing.T) {
	t.Parallel()

	n := audio.NewNormalizer(audio.Format{SampleRate: 44100, Channels: 1})
	in := audio.AudioFrame{
		Data:       samplesToBytes([]int16{100, 300, -200, -400}),
		SampleRate: 44100,
		Channels:   2,
	}
	out := bytesToSamples(n.Normalize(in).Data)
	want := []int16{200, -300}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}

func TestNormalize_Resample(t *testing.T) {
	t.Parallel()

	n := audio.NewNormalizer(audio.Format{SampleRate: 44100, Channels: 1})
	in := audio.AudioFrame{
		Data:       samplesToBytes(make([]int16, 480)),
		SampleRate: 48000,
		Channels:   1,
	}
	out := n.Normalize(in)
	if out.SampleRate != 44100 || out.Channels != 1 {
		t.Fatalf("got %dHz/%dch, want 44100Hz/1ch", out.SampleRate, out.Channels)
	}
	if got := len(out.Data) / 2; got != 441 {
		t.Errorf("got %d samples, want 441", got)
	}
}

func TestNormalize_OddBytesDropped(t *testing.T) {
	t.Parallel()

	n := audio.NewNormalizer(audio.Format{SampleRate: 44100, Channels: 1})
	out := n.Normalize(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 44100, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("got %d bytes, want 0", len(out.Data))
	}
}

// ── Drain ───────────────────────────────────────────────────────────────────

func TestDrain(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be drained and closed")
	}
}
