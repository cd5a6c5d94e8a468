package audio

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrNoSupportedFormat is returned by [SelectEncoder] when none of the ranked
// formats has a registered encoder.
var ErrNoSupportedFormat = errors.New("audio: no supported encoding format")

// Encoder converts captured PCM frames into a container format.
//
// Encoding happens in two steps so that recorders can buffer chunks as they
// arrive: EncodeChunk is called once per frame and Finalize assembles the
// buffered chunks into the final payload (writing headers, trailers, etc.).
type Encoder interface {
	// MIMEType is the media type of the finalised payload.
	MIMEType() string

	// EncodeChunk encodes one frame. The returned slice must not alias f.Data.
	EncodeChunk(f AudioFrame) ([]byte, error)

	// Finalize assembles chunks (in capture order) into a complete payload.
	Finalize(chunks [][]byte, format Format) ([]byte, error)
}

// SelectEncoder walks ranked in order and returns the first encoder in
// available whose MIME type matches. Matching ignores case and parameters
// (so "audio/webm;codecs=opus" matches an "audio/webm" encoder).
func SelectEncoder(ranked []string, available []Encoder) (Encoder, error) {
	for _, want := range ranked {
		w := baseType(want)
		for _, enc := range available {
			if baseType(enc.MIMEType()) == w {
				return enc, nil
			}
		}
	}
	return nil, fmt.Errorf("%w (ranked: %s)", ErrNoSupportedFormat, strings.Join(ranked, ", "))
}

func baseType(t string) string {
	base, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(t))
	}
	return base
}
