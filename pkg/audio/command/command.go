// Package command implements [audio.Device] and [audio.Player] on top of
// external recorder and player programs (arecord, aplay, ffplay, sox, ...).
//
// The recorder program must write raw 16-bit little-endian PCM to stdout. Its
// argument list may contain the placeholders {rate} and {channels}, which are
// replaced with the requested [audio.Constraints]. The player program receives
// the path of a temporary file holding the clip as its last argument.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Bhavikr1/spibot/pkg/audio"
)

// frameDuration is the amount of audio delivered per [audio.AudioFrame].
const frameDuration = 20 * time.Millisecond

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is an [audio.Device] backed by a recorder process.
type Device struct {
	// Command is the recorder program and its arguments.
	Command []string
}

var _ audio.Device = (*Device)(nil)

// Open starts the recorder process. The returned stream has a single track;
// stopping it kills the process.
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("command: open: %w: no recorder configured", audio.ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("command: open: %w", err)
	}

	args := expand(d.Command[1:], c)
	cmd := exec.Command(d.Command[0], args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("command: open: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command: open %q: %w", d.Command[0], classify(err))
	}

	slog.Debug("command: recorder started",
		"program", d.Command[0],
		"pid", cmd.Process.Pid,
		"sample_rate", c.SampleRate,
		"channels", c.Channels,
		"echo_cancellation", c.EchoCancellation,
		"noise_suppression", c.NoiseSuppression,
	)

	s := &stream{
		track:  &procTrack{id: fmt.Sprintf("%s-%d", d.Command[0], cmd.Process.Pid), cmd: cmd},
		frames: make(chan audio.AudioFrame, 16),
	}
	go s.read(stdout, c)
	return s, nil
}

// classify maps process start failures onto the audio error sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return err
}

func expand(args []string, c audio.Constraints) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(c.SampleRate),
		"{channels}", strconv.Itoa(c.Channels),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

type stream struct {
	track  *procTrack
	frames chan audio.AudioFrame
}

func (s *stream) Tracks() []audio.Track           { return []audio.Track{s.track} }
func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) read(r io.Reader, c audio.Constraints) {
	defer close(s.frames)
	defer s.track.wait()

	channels := max(c.Channels, 1)
	size := c.SampleRate * channels * 2 * int(frameDuration/time.Millisecond) / 1000
	if size <= 0 {
		size = 1764
	}
	size -= size % (2 * channels)

	var ts time.Duration
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % 2
			s.frames <- audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: c.SampleRate,
				Channels:   channels,
				Timestamp:  ts,
			}
			ts += frameDuration
		}
		if err != nil {
			return
		}
	}
}

type procTrack struct {
	id  string
	cmd *exec.Cmd

	stopOnce sync.Once
	waitOnce sync.Once
}

func (t *procTrack) ID() string { return t.id }

func (t *procTrack) Stop() {
	t.stopOnce.Do(func() {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	})
}

func (t *procTrack) wait() {
	t.waitOnce.Do(func() {
		if err := t.cmd.Wait(); err != nil {
			slog.Debug("command: recorder exited", "track", t.id, "err", err)
		}
	})
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is an [audio.Player] that hands each clip to a player process.
type Player struct {
	// Command is the player program and its leading arguments. The clip's
	// temporary file path is appended.
	Command []string

	// TempDir is where clip files are written. Empty means os.TempDir.
	TempDir string
}

var _ audio.Player = (*Player)(nil)

// Play writes c to a temporary file and starts the player process on it.
func (p *Player) Play(ctx context.Context, c audio.Clip) (audio.Playback, error) {
	if len(p.Command) == 0 {
		return nil, errors.New("command: play: no player configured")
	}
	if c.Empty() {
		return nil, errors.New("command: play: empty clip")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("command: play: %w", err)
	}

	f, err := os.CreateTemp(p.TempDir, "spibot-*"+c.Ext())
	if err != nil {
		return nil, fmt.Errorf("command: play: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(c.Data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("command: play: write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("command: play: %w", err)
	}

	args := append(append([]string{}, p.Command[1:]...), path)
	cmd := exec.Command(p.Command[0], args...)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("command: play %q: %w", p.Command[0], err)
	}

	pb := &playback{cmd: cmd, done: make(chan struct{})}
	go pb.run(path)
	return pb, nil
}

type playback struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error
}

func (p *playback) run(path string) {
	err := p.cmd.Wait()
	os.Remove(path)

	p.mu.Lock()
	if err != nil && !p.stopped {
		p.err = fmt.Errorf("command: player exited: %w", err)
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("command: stop playback: %w", err)
	}
	<-p.done
	return nil
}

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
