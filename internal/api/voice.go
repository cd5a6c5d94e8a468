package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/audio/wav"
	"github.com/Bhavikr1/spibot/pkg/types"
)

// Response metadata headers of the voice endpoint.
const (
	HeaderTranscription = "X-Transcription"
	HeaderCitations     = "X-Citations"
)

// FallbackTranscript replaces a transcript the backend did not report.
const FallbackTranscript = "Voice query"

// maxAnswerAudio caps the synthesised answer read into memory.
const maxAnswerAudio = 64 << 20

// VoiceResponse is the result of uploading a recorded question.
type VoiceResponse struct {
	// Transcript is the recognised question, or [FallbackTranscript].
	Transcript string

	// TranscriptMissing is set when the fallback was used.
	TranscriptMissing bool

	// Answer is the synthesised spoken answer. It may be empty.
	Answer audio.Clip

	// Citations supporting the answer; nil when none were reported or the
	// metadata could not be parsed.
	Citations []types.Citation
}

// Voice uploads clip as a multipart form {audio, language} and returns the
// transcript, the spoken answer and its citations. Missing metadata is
// substituted rather than treated as an error.
func (c *Client) Voice(ctx context.Context, clip audio.Clip, language string) (*VoiceResponse, error) {
	if clip.Empty() {
		return nil, fmt.Errorf("api: voice: empty audio clip")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreatePart(audioPartHeader(clip))
	if err != nil {
		return nil, fmt.Errorf("api: voice: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("api: voice: write audio: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("api: voice: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api: voice: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(PathVoice, nil), &body)
	if err != nil {
		return nil, fmt.Errorf("api: voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, "voice")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerAudio))
	if err != nil {
		return nil, &TransportError{Op: "voice", StatusCode: resp.StatusCode, Err: fmt.Errorf("read answer audio: %w", err)}
	}

	out := &VoiceResponse{
		Transcript: strings.TrimSpace(resp.Header.Get(HeaderTranscription)),
		Answer:     answerClip(resp.Header.Get("Content-Type"), data),
	}
	if out.Transcript == "" {
		out.Transcript = FallbackTranscript
		out.TranscriptMissing = true
	}
	if raw := resp.Header.Get(HeaderCitations); raw != "" {
		cites, err := ParseCitations(raw)
		if err != nil {
			observe.Logger(ctx).Warn("api: voice: unreadable citation metadata, answering without citations", "err", err)
		}
		out.Citations = cites
	}
	return out, nil
}

// audioPartHeader builds the header of the "audio" form part. The filename
// carries an extension matching the clip type so the backend can sniff it.
func audioPartHeader(clip audio.Clip) textproto.MIMEHeader {
	ct := clip.MIMEType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="audio"; filename="query%s"`, clip.Ext())},
		"Content-Type":        {ct},
	}
}

func answerClip(contentType string, data []byte) audio.Clip {
	if len(data) == 0 {
		return audio.Clip{MIMEType: contentType}
	}
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil || base == "" {
		base = http.DetectContentType(data)
		if i := strings.IndexByte(base, ';'); i >= 0 {
			base = base[:i]
		}
	}
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return wav.Clip(data)
	}
	return audio.Clip{MIMEType: base, Data: data}
}
