// Package capture implements the microphone recorder: it acquires a device
// stream with a fixed quality configuration, encodes frames as they arrive and
// hands the finished clip to a completion callback.
//
// A [Recorder] is either Idle or Recording. The device stream is held only
// while Recording and every track is stopped on each path out of that state.
// Device acquisition runs without the recorder lock, so Stop and Abort stay
// responsive while a slow device is being opened.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/audio/pcm"
	"github.com/Bhavikr1/spibot/pkg/audio/wav"
)

// Constraints is the fixed quality configuration requested from the device.
var Constraints = audio.Constraints{
	EchoCancellation: true,
	NoiseSuppression: true,
	SampleRate:       44100,
	Channels:         1,
}

// RankedFormats lists the preferred encodings, best first.
var RankedFormats = []string{"audio/webm", "audio/mp4", wav.MIMEType, pcm.MIMEType}

// ErrAlreadyRecording is returned by [Recorder.Start] while a recording is in
// progress.
var ErrAlreadyRecording = errors.New("capture: already recording")

// ErrStartAborted is returned by [Recorder.Start] when Stop or Abort was
// called while the device was still being acquired.
var ErrStartAborted = errors.New("capture: start aborted")

// ErrorKind classifies a [CaptureError].
type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota + 1
	KindDeviceUnavailable
	KindUnsupportedFormat
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindUnsupportedFormat:
		return "unsupported format"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CaptureError reports why a recording could not be started.
type CaptureError struct {
	Kind ErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "capture: " + e.Kind.String()
	}
	return "capture: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithEncoders replaces the registered encoders (default: WAV and L16).
func WithEncoders(encs ...audio.Encoder) Option {
	return func(r *Recorder) { r.encoders = encs }
}

// WithRankedFormats replaces the format preference order.
func WithRankedFormats(formats ...string) Option {
	return func(r *Recorder) { r.ranked = formats }
}

// Recorder records one clip at a time from a [audio.Device].
// All exported methods are safe for concurrent use.
type Recorder struct {
	device   audio.Device
	ranked   []string
	encoders []audio.Encoder

	mu      sync.Mutex
	state   State
	sess    *session
	onChunk func([]byte)
	onStop  func(audio.Clip)

	// starting is set while Start waits for the device; aborted records a
	// Stop or Abort that arrived in that window.
	starting bool
	aborted  bool
}

// session is the state of one recording. chunks, pcmBytes and err are owned
// by the reader goroutine until done is closed.
type session struct {
	stream  audio.Stream
	enc     audio.Encoder
	started time.Time
	done    chan struct{}

	chunks   [][]byte
	pcmBytes int
	err      error
}

// New returns an idle recorder for device.
func New(device audio.Device, opts ...Option) *Recorder {
	r := &Recorder{
		device:   device,
		ranked:   RankedFormats,
		encoders: []audio.Encoder{wav.Encoder{}, pcm.Encoder{}},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnChunk registers fn to receive every encoded chunk as it is buffered. It
// runs on the reader goroutine and must not block. Takes effect on the next
// Start.
func (r *Recorder) OnChunk(fn func(chunk []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChunk = fn
}

// OnStop registers fn to receive the finished clip of every successful Stop.
func (r *Recorder) OnStop(fn func(audio.Clip)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = fn
}

// State returns the current lifecycle state. A recorder still acquiring its
// device reports Idle.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start selects an encoding format, acquires the microphone and begins
// buffering encoded chunks. Acquisition failures are returned as
// *[CaptureError]. ctx bounds acquisition only. A Stop or Abort issued while
// the device is being opened makes Start release the stream and return
// [ErrStartAborted].
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRecording || r.starting {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	enc, err := audio.SelectEncoder(r.ranked, r.encoders)
	if err != nil {
		r.mu.Unlock()
		return &CaptureError{Kind: KindUnsupportedFormat, Err: err}
	}
	r.starting = true
	r.aborted = false
	onChunk := r.onChunk
	r.mu.Unlock()

	stream, err := r.device.Open(ctx, Constraints)

	r.mu.Lock()
	defer r.mu.Unlock()
	aborted := r.aborted
	r.starting = false
	r.aborted = false

	if err != nil {
		return classify(err)
	}
	if aborted || ctx.Err() != nil {
		audio.StopAll(stream)
		go audio.Drain(stream.Frames())
		if aborted {
			slog.Debug("capture: start aborted during acquisition")
			return ErrStartAborted
		}
		return fmt.Errorf("capture: start: %w", ctx.Err())
	}

	s := &session{
		stream:  stream,
		enc:     enc,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go s.read(audio.NewNormalizer(Constraints.Format()), onChunk)

	r.sess = s
	r.state = StateRecording
	slog.Debug("capture: recording started", "format", enc.MIMEType(), "tracks", len(stream.Tracks()))
	return nil
}

// Stop ends the recording, releases the device and returns the finalised
// clip, which is also passed to the OnStop callback. Stop while Idle returns
// an empty clip and no error.
func (r *Recorder) Stop() (audio.Clip, error) {
	s, onStop := r.finish()
	if s == nil {
		return audio.Clip{}, nil
	}
	if s.err != nil {
		return audio.Clip{}, fmt.Errorf("capture: encode: %w", s.err)
	}

	format := Constraints.Format()
	data, err := s.enc.Finalize(s.chunks, format)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("capture: finalize: %w", err)
	}
	clip := audio.Clip{
		MIMEType:   s.enc.MIMEType(),
		Data:       data,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Duration:   pcmDuration(s.pcmBytes, format),
	}
	slog.Debug("capture: recording stopped",
		"format", clip.MIMEType,
		"bytes", len(clip.Data),
		"duration", clip.Duration,
		"wall", time.Since(s.started),
	)
	if onStop != nil {
		onStop(clip)
	}
	return clip, nil
}

// Abort ends the recording and releases the device without producing a clip.
// It returns the encoding error observed during the recording, if any.
func (r *Recorder) Abort() error {
	s, _ := r.finish()
	if s == nil {
		return nil
	}
	slog.Debug("capture: recording aborted", "chunks", len(s.chunks))
	if s.err != nil {
		return fmt.Errorf("capture: encode: %w", s.err)
	}
	return nil
}

// finish moves the recorder to Idle, stops every track and waits for the
// reader to drain the stream. It returns nil when no recording was active.
// A pending Start is flagged so it releases its stream once Open returns.
func (r *Recorder) finish() (*session, func(audio.Clip)) {
	r.mu.Lock()
	if r.starting {
		r.aborted = true
	}
	s := r.sess
	onStop := r.onStop
	r.sess = nil
	r.state = StateIdle
	r.mu.Unlock()

	if s == nil {
		return nil, nil
	}
	audio.StopAll(s.stream)
	<-s.done
	return s, onStop
}

func (s *session) read(norm *audio.Normalizer, onChunk func([]byte)) {
	defer close(s.done)
	for frame := range s.stream.Frames() {
		frame = norm.Normalize(frame)
		if len(frame.Data) == 0 {
			continue
		}
		chunk, err := s.enc.EncodeChunk(frame)
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			continue
		}
		s.chunks = append(s.chunks, chunk)
		s.pcmBytes += len(frame.Data)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return &CaptureError{Kind: KindPermissionDenied, Err: err}
	default:
		return &CaptureError{Kind: KindDeviceUnavailable, Err: err}
	}
}

func pcmDuration(n int, f audio.Format) time.Duration {
	frameBytes := 2 * f.Channels
	if frameBytes == 0 || f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n/frameBytes) * time.Second / time.Duration(f.SampleRate)
}
