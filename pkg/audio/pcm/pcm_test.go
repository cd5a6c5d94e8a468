package pcm

import (
	"bytes"
	"testing"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

func TestEncodeChunk_SwapsToBigEndian(t *testing.T) {
	t.Parallel()

	got, err := Encoder{}.EncodeChunk(audio.AudioFrame{Data: []byte{0x01, 0x02, 0xff, 0x7f}})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	want := []byte{0x02, 0x01, 0x7f, 0xff}
	if !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestEncodeChunk_OddLength(t *testing.T) {
	t.Parallel()
	if _, err := (Encoder{}).EncodeChunk(audio.AudioFrame{Data: []byte{1}}); err == nil {
		t.Fatal("expected error for odd byte count")
	}
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	out, err := Encoder{}.Finalize([][]byte{{1, 2}, {3, 4}}, audio.Format{SampleRate: 44100, Channels: 1})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("got %v", out)
	}
	if ct := ContentType(audio.Format{SampleRate: 44100, Channels: 1}); ct != "audio/L16;rate=44100;channels=1" {
		t.Errorf("ContentType = %q", ct)
	}
}
