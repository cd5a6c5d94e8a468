package playback

import (
	"context"

	"github.com/Bhavikr1/spibot/internal/resilience"
	"github.com/Bhavikr1/spibot/pkg/audio"
)

// FallbackPlayer tries a chain of players in order until one starts. Each
// player sits behind its own circuit breaker, so a player that is missing on
// this machine is skipped quickly after it has failed a few times.
type FallbackPlayer struct {
	group *resilience.FallbackGroup[audio.Player]
}

var _ audio.Player = (*FallbackPlayer)(nil)

// NewFallbackPlayer returns a chain starting with primary.
func NewFallbackPlayer(primary audio.Player, name string, cfg resilience.FallbackConfig) *FallbackPlayer {
	return &FallbackPlayer{group: resilience.NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends p to the chain. Must be called before first use.
func (f *FallbackPlayer) AddFallback(name string, p audio.Player) {
	f.group.AddFallback(name, p)
}

// Names returns the player names in the order they are tried.
func (f *FallbackPlayer) Names() []string { return f.group.Names() }

// Play implements [audio.Player]. Only start failures fall through to the
// next player; a playback that starts and later fails is reported through its
// handle.
func (f *FallbackPlayer) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	return resilience.ExecuteWithResult(f.group, func(p audio.Player) (audio.Playback, error) {
		return p.Play(ctx, clip)
	})
}
