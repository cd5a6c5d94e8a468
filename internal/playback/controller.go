// Package playback plays spoken answers through a single output slot.
//
// Starting a new playback while one is active stops the active one first: the
// latest answer always wins and nothing is queued.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/pkg/audio"
)

// ErrEmptyClip is returned by [Controller.Play] for a clip without data.
var ErrEmptyClip = errors.New("playback: empty clip")

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Controller owns the single playback slot. All exported methods are safe for
// concurrent use.
type Controller struct {
	player  audio.Player
	metrics *observe.Metrics

	// playMu serialises Play so that replacement happens in call order.
	playMu sync.Mutex

	mu        sync.Mutex
	current   audio.Playback
	gen       uint64
	idle      chan struct{} // closed while nothing is playing
	listeners []func(playing bool)
}

// New returns an idle controller playing through player.
func New(player audio.Player, opts ...Option) *Controller {
	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		player:  player,
		metrics: observe.DefaultMetrics(),
		idle:    idle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnStateChange registers fn to be called whenever the playing flag flips.
// Callbacks run synchronously and must not call back into the controller.
func (c *Controller) OnStateChange(fn func(playing bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Playing reports whether an answer is currently playing.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Play starts clip, replacing any playback in progress. It returns once the
// player has started; completion is observed through [Controller.Wait] or
// OnStateChange.
func (c *Controller) Play(ctx context.Context, clip audio.Clip) error {
	if clip.Empty() {
		return ErrEmptyClip
	}
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		slog.Debug("playback: replacing active playback")
		if err := prev.Stop(); err != nil {
			slog.Warn("playback: failed to stop previous playback", "err", err)
		}
	}

	pb, err := c.player.Play(ctx, clip)
	if err != nil {
		c.settle(ctx, gen)
		return fmt.Errorf("playback: play: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stop raced with the start.
		c.mu.Unlock()
		_ = pb.Stop()
		return nil
	}
	c.current = pb
	started := prev == nil
	if started {
		c.idle = make(chan struct{})
	}
	listeners := c.listeners
	c.mu.Unlock()

	if started {
		c.metrics.PlaybackActive.Add(ctx, 1)
		notify(listeners, true)
	}
	go c.watch(context.WithoutCancel(ctx), gen, pb)
	return nil
}

// Stop ends the active playback, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	pb := c.current
	if pb == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.current = nil
	close(c.idle)
	listeners := c.listeners
	c.mu.Unlock()

	if err := pb.Stop(); err != nil {
		slog.Warn("playback: stop failed", "err", err)
	}
	c.metrics.PlaybackActive.Add(context.Background(), -1)
	notify(listeners, false)
}

// Wait blocks until nothing is playing or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) watch(ctx context.Context, gen uint64, pb audio.Playback) {
	<-pb.Done()
	if err := pb.Err(); err != nil {
		observe.Logger(ctx).Warn("playback: answer playback failed", "err", err)
	}
	c.settle(ctx, gen)
}

// settle clears the slot if gen is still the latest generation.
func (c *Controller) settle(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	close(c.idle)
	listeners := c.listeners
	c.mu.Unlock()

	c.metrics.PlaybackActive.Add(ctx, -1)
	notify(listeners, false)
}

func notify(listeners []func(bool), playing bool) {
	for _, fn := range listeners {
		fn(playing)
	}
}
