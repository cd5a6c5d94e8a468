// Package mock provides in-memory implementations of the [audio.Device],
// [audio.Stream], [audio.Track], [audio.Player] and [audio.Playback]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream("mic-0")
//	dev := &mock.Device{OpenResult: stream}
//	rec := capture.New(dev)
//	_ = rec.Start(ctx)
//	stream.Push(audio.AudioFrame{Data: pcm, SampleRate: 44100, Channels: 1})
//	clip, _ := rec.Stop()
package mock

import (
	"context"
	"sync"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track].
type Track struct {
	id     string
	stream *Stream

	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int
	stopped       bool
}

// ID implements [audio.Track].
func (t *Track) ID() string { return t.id }

// Stop implements [audio.Track]. Only the first call has an effect; later
// calls are still counted.
func (t *Track) Stop() {
	t.mu.Lock()
	t.CallCountStop++
	first := !t.stopped
	t.stopped = true
	t.mu.Unlock()
	if first && t.stream != nil {
		t.stream.trackStopped()
	}
}

// Stopped reports whether Stop has been called at least once.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// StopCount returns the number of Stop calls.
func (t *Track) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountStop
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Frames are injected with
// [Stream.Push]; the frame channel closes once every track has been stopped.
type Stream struct {
	tracks []*Track
	frames chan audio.AudioFrame

	mu      sync.Mutex
	live    int
	closed  bool
	dropped int
}

// NewStream returns a stream with one track per id. With no ids a single track
// named "track-0" is created.
func NewStream(trackIDs ...string) *Stream {
	if len(trackIDs) == 0 {
		trackIDs = []string{"track-0"}
	}
	s := &Stream{frames: make(chan audio.AudioFrame, 64)}
	for _, id := range trackIDs {
		s.tracks = append(s.tracks, &Track{id: id, stream: s})
	}
	s.live = len(s.tracks)
	return s
}

// Tracks implements [audio.Stream].
func (s *Stream) Tracks() []audio.Track {
	out := make([]audio.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// MockTracks returns the concrete track mocks for assertions.
func (s *Stream) MockTracks() []*Track { return s.tracks }

// Push delivers f to the frame channel. It blocks while the channel buffer is
// full. Frames pushed after every track stopped are counted and discarded.
func (s *Stream) Push(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		return
	}
	s.frames <- f
}

// Dropped returns how many frames were pushed after the stream closed.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// AllStopped reports whether every track has been stopped.
func (s *Stream) AllStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

func (s *Stream) trackStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live--
	if s.live == 0 && !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the stream returned by Open. A fresh single-track stream
	// is created per call when nil.
	OpenResult audio.Stream

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenCalls records the constraints of every Open invocation.
	OpenCalls []audio.Constraints

	// OpenGate, when non-nil, holds every Open call until it is closed or
	// the call's context is done. The call is recorded before it waits.
	OpenGate <-chan struct{}

	last audio.Stream
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, c)
	gate := d.OpenGate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.OpenResult
	if s == nil {
		s = NewStream()
	}
	d.last = s
	return s, nil
}

// LastStream returns the stream handed out by the most recent successful Open.
func (d *Device) LastStream() audio.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// OpenCount returns the number of Open calls.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.Playback]. It stays in progress
// until [Playback.Finish] or Stop is called.
type Playback struct {
	Clip audio.Clip

	done chan struct{}
	once sync.Once

	mu            sync.Mutex
	err           error
	CallCountStop int
	stoppedEarly  bool
}

// NewPlayback returns an in-progress playback of c.
func NewPlayback(c audio.Clip) *Playback {
	return &Playback{Clip: c, done: make(chan struct{})}
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Stop implements [audio.Playback].
func (p *Playback) Stop() error {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	p.once.Do(func() {
		p.mu.Lock()
		p.stoppedEarly = true
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

// Err implements [audio.Playback].
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Finish completes the playback naturally (err nil) or abnormally.
func (p *Playback) Finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// StoppedEarly reports whether the playback ended through Stop.
func (p *Playback) StoppedEarly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedEarly
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil.
	PlayError error

	// AutoFinish completes every playback immediately after Play returns.
	AutoFinish bool

	// PlayCalls records every clip passed to Play, including failed calls.
	PlayCalls []audio.Clip

	playbacks []*Playback
	started   chan *Playback
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, c audio.Clip) (audio.Playback, error) {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, c)
	if p.PlayError != nil {
		err := p.PlayError
		p.mu.Unlock()
		return nil, err
	}
	pb := NewPlayback(c)
	p.playbacks = append(p.playbacks, pb)
	started := p.started
	auto := p.AutoFinish
	p.mu.Unlock()

	if auto {
		pb.Finish(nil)
	}
	if started != nil {
		started <- pb
	}
	return pb, nil
}

// Started returns a channel receiving each playback as it starts. The channel
// is buffered; call Started before the first Play.
func (p *Player) Started() <-chan *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan *Playback, 16)
	}
	return p.started
}

// Playbacks returns every playback started so far, in order.
func (p *Player) Playbacks() []*Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Playback, len(p.playbacks))
	copy(out, p.playbacks)
	return out
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PlayCalls)
}

var (
	_ audio.Device   = (*Device)(nil)
	_ audio.Stream   = (*Stream)(nil)
	_ audio.Track    = (*Track)(nil)
	_ audio.Player   = (*Player)(nil)
	_ audio.Playback = (*Playback)(nil)
)
