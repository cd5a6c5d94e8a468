// Package stream reassembles the line-framed streaming answer produced by the
// backend's /query/stream endpoint into exact text.
//
// The wire format is a sequence of lines of the form
//
//	data: "<json string fragment>"
//
// terminated by "data: [DONE]". A payload starting with "[ERROR]" reports an
// upstream failure and is skipped. Chunk boundaries on the transport are
// arbitrary, so lines are only interpreted once their terminating newline has
// arrived; the reassembled text depends only on the byte stream content.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// Prefix marks a frame line. Lines without it are framing noise.
	Prefix = "data: "

	// DoneSentinel is the payload that terminates the stream.
	DoneSentinel = "[DONE]"

	// ErrorSentinel prefixes payloads that report an upstream error.
	ErrorSentinel = "[ERROR]"

	// DefaultPacing is the pause after each applied fragment.
	DefaultPacing = 10 * time.Millisecond

	defaultReadSize = 4096
)

// Kind classifies a single frame line.
type Kind int

const (
	// KindNoise is a line without the frame prefix.
	KindNoise Kind = iota
	// KindEmpty is a frame with an empty payload (keep-alive).
	KindEmpty
	// KindDone is the terminal sentinel.
	KindDone
	// KindUpstreamError is a frame whose payload starts with [ERROR].
	KindUpstreamError
	// KindFragment carries assistant text.
	KindFragment
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNoise:
		return "noise"
	case KindEmpty:
		return "empty"
	case KindDone:
		return "done"
	case KindUpstreamError:
		return "upstream_error"
	case KindFragment:
		return "fragment"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Frame is the classification of one complete line.
type Frame struct {
	Kind Kind

	// Payload is the trimmed text after the prefix.
	Payload string

	// Text is the decoded fragment (KindFragment only).
	Text string

	// Malformed is set when the payload was not a JSON string and Text is
	// the raw payload.
	Malformed bool
}

// ParseLine classifies one complete line (without its trailing newline).
func ParseLine(line string) Frame {
	if !strings.HasPrefix(line, Prefix) {
		return Frame{Kind: KindNoise}
	}
	payload := strings.TrimSpace(line[len(Prefix):])

	switch {
	case payload == "":
		return Frame{Kind: KindEmpty}
	case payload == DoneSentinel:
		return Frame{Kind: KindDone, Payload: payload}
	case strings.HasPrefix(payload, ErrorSentinel):
		return Frame{Kind: KindUpstreamError, Payload: payload}
	}

	var text string
	if err := json.Unmarshal([]byte(payload), &text); err != nil {
		return Frame{Kind: KindFragment, Payload: payload, Text: payload, Malformed: true}
	}
	return Frame{Kind: KindFragment, Payload: payload, Text: text}
}

// Update is delivered to the consumer after every applied fragment.
type Update struct {
	// Fragment is the newly decoded piece.
	Fragment string

	// Text is the full accumulated answer including Fragment.
	Text string
}

// Result summarises a finished reassembly.
type Result struct {
	// Text is the concatenation of every fragment in order.
	Text string

	// Fragments is the number of fragments applied.
	Fragments int

	// Malformed counts fragments whose payload was not a JSON string.
	Malformed int

	// UpstreamErrors counts skipped [ERROR] frames.
	UpstreamErrors int

	// Done reports whether the terminal sentinel was seen. False means the
	// transport ended first, which is still a clean termination.
	Done bool

	// Truncated reports that the transport ended in the middle of a line.
	Truncated bool
}

// Option configures a [Reassembler].
type Option func(*Reassembler)

// WithPacing sets the pause after each fragment. Zero disables pacing.
func WithPacing(d time.Duration) Option {
	return func(r *Reassembler) { r.pacing = d }
}

// WithReadSize sets the size of each transport read.
func WithReadSize(n int) Option {
	return func(r *Reassembler) {
		if n > 0 {
			r.readSize = n
		}
	}
}

// WithSleep replaces the pacing wait. The function must return early with the
// context error when ctx is cancelled.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reassembler) { r.sleep = fn }
}

// Reassembler turns a framed byte stream into text. A Reassembler holds only
// configuration; each [Reassembler.Run] call has its own buffer, so one value
// may be shared by sequential or concurrent turns.
type Reassembler struct {
	pacing   time.Duration
	readSize int
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns a Reassembler with DefaultPacing.
func New(opts ...Option) *Reassembler {
	r := &Reassembler{
		pacing:   DefaultPacing,
		readSize: defaultReadSize,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reads src until the terminal sentinel, end of input or an error, calling
// onUpdate after each fragment is appended. onUpdate may be nil.
//
// End of input without a sentinel is a clean termination; an unterminated
// final line is dropped and reported in [Result.Truncated]. A read error other
// than io.EOF is returned together with the partial result accumulated so far.
func (r *Reassembler) Run(ctx context.Context, src io.Reader, onUpdate func(Update)) (Result, error) {
	var (
		res  Result
		text strings.Builder
		buf  []byte
	)
	chunk := make([]byte, r.readSize)

	// apply processes one complete line and reports whether the stream ended.
	apply := func(line []byte) (bool, error) {
		f := ParseLine(string(line))
		switch f.Kind {
		case KindDone:
			res.Done = true
			return true, nil
		case KindUpstreamError:
			res.UpstreamErrors++
			slog.Warn("stream: upstream error frame", "payload", f.Payload)
			return false, nil
		case KindNoise, KindEmpty:
			return false, nil
		}

		if f.Malformed {
			res.Malformed++
			slog.Debug("stream: non-json fragment, using raw payload", "payload", f.Payload)
		}
		text.WriteString(f.Text)
		res.Fragments++
		if onUpdate != nil {
			onUpdate(Update{Fragment: f.Text, Text: text.String()})
		}
		if r.pacing > 0 {
			if err := r.sleep(ctx, r.pacing); err != nil {
				return true, err
			}
		}
		return false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			res.Text = text.String()
			return res, fmt.Errorf("stream: %w", err)
		}

		n, readErr := src.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				line := buf[:i]
				buf = buf[i+1:]
				stop, err := apply(line)
				if err != nil {
					res.Text = text.String()
					return res, fmt.Errorf("stream: %w", err)
				}
				if stop {
					res.Text = text.String()
					return res, nil
				}
			}
			// Compact so the retained partial line does not pin old chunks.
			buf = append([]byte(nil), buf...)
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				res.Text = text.String()
				return res, fmt.Errorf("stream: read: %w", readErr)
			}
			// A line is only complete once its newline arrives; a leftover at
			// EOF is a frame cut off by the transport and is discarded.
			if len(buf) > 0 {
				res.Truncated = true
				slog.Debug("stream: discarding unterminated line at eof", "bytes", len(buf))
			}
			res.Text = text.String()
			return res, nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
