// Package app wires the spibot subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects the API
// client, conversation store, microphone recorder, playback controller and
// turn orchestrator; Run drives the interactive REPL next to the optional
// telemetry listener; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice, WithPlayer,
// WithHTTPClient). When an option is not provided, New builds the real
// command-backed implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Bhavikr1/spibot/internal/api"
	"github.com/Bhavikr1/spibot/internal/capture"
	"github.com/Bhavikr1/spibot/internal/config"
	"github.com/Bhavikr1/spibot/internal/conversation"
	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/internal/playback"
	"github.com/Bhavikr1/spibot/internal/resilience"
	"github.com/Bhavikr1/spibot/internal/stream"
	"github.com/Bhavikr1/spibot/internal/turn"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/audio/command"
	"go.opentelemetry.io/otel"
)

// App owns all subsystem lifetimes of one client process.
type App struct {
	cfg     *config.Config
	version string

	// Injected or built from config.
	device     audio.Device
	player     audio.Player
	httpClient *http.Client

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	client    *api.Client
	store     *conversation.Store
	recorder  *capture.Recorder
	playback  *playback.Controller
	orch      *turn.Orchestrator

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of the configured record command.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithPlayer injects an audio player instead of the configured playback
// command chain.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithHTTPClient injects the HTTP client used to reach the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithMetrics injects the metrics sink. Without it New uses the telemetry
// provider when a listener is configured and [observe.DefaultMetrics]
// otherwise.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the service version reported in telemetry resources.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. Nothing is opened eagerly: the microphone is only acquired when
// a recording starts and the backend is only contacted by turns and probes.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Backend client ────────────────────────────────────────────────
	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("app: init api client: %w", err)
	}

	// ── 3. Conversation store ────────────────────────────────────────────
	a.store = conversation.New()

	// ── 4. Microphone ────────────────────────────────────────────────────
	a.initRecorder()

	// ── 5. Playback ──────────────────────────────────────────────────────
	a.initPlayback()

	// ── 6. Turn orchestrator ─────────────────────────────────────────────
	orch, err := turn.New(turn.Config{
		Language:         cfg.Conversation.Language,
		IncludeCitations: cfg.Conversation.IncludeCitations,
		HistorySize:      cfg.Conversation.HistorySize,
		VoiceMode:        turn.VoiceMode(cfg.Voice.Mode),
	}, turn.Deps{
		Backend:     a.client,
		Store:       a.store,
		Recorder:    a.recorder,
		Player:      a.playback,
		Reassembler: stream.New(stream.WithPacing(cfg.Conversation.Pacing)),
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init turns: %w", err)
	}
	a.orch = orch
	a.closers = append(a.closers, func(context.Context) error {
		return a.orch.CancelRecording()
	})

	slog.Debug("app initialised",
		"base_url", a.client.BaseURL(),
		"language", cfg.Conversation.Language,
		"voice_mode", cfg.Voice.Mode,
	)
	return a, nil
}

// initTelemetry installs the OTel SDK when a telemetry listener is
// configured. Metrics are bound to that provider so /metrics exposes them.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.cfg.Telemetry.ListenAddr != "" {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    a.cfg.Telemetry.ServiceName,
			ServiceVersion: a.version,
		})
		if err != nil {
			return err
		}
		a.telemetry = tel
		a.closers = append(a.closers, tel.Shutdown)

		if a.metrics == nil {
			m, err := observe.NewMetrics(otel.GetMeterProvider())
			if err != nil {
				return err
			}
			a.metrics = m
		}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return nil
}

func (a *App) initClient() error {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  a.cfg.API.CircuitBreaker.MaxFailures,
		ResetTimeout: a.cfg.API.CircuitBreaker.ResetTimeout,
		IsFailure:    api.IsBackendFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
		},
	})

	c, err := api.New(a.cfg.API.BaseURL,
		api.WithHTTPClient(a.httpClient),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithCircuitBreaker(breaker),
		api.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.client = c
	return nil
}

func (a *App) initRecorder() {
	if a.device == nil {
		a.device = &command.Device{Command: a.cfg.Voice.RecordCommand}
	}
	a.recorder = capture.New(a.device)
	a.closers = append(a.closers, func(context.Context) error {
		return a.recorder.Abort()
	})
}

// initPlayback builds the player chain: the configured commands are tried in
// order, each behind its own circuit breaker.
func (a *App) initPlayback() {
	if a.player == nil {
		a.player = playerChain(a.cfg.Voice.PlaybackCommands)
	}
	a.playback = playback.New(a.player, playback.WithMetrics(a.metrics))
	a.closers = append(a.closers, func(context.Context) error {
		a.playback.Stop()
		return nil
	})
}

func playerChain(cmds [][]string) audio.Player {
	if len(cmds) == 0 {
		return &command.Player{}
	}
	cfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 2},
	}
	chain := playback.NewFallbackPlayer(&command.Player{Command: cmds[0]}, cmds[0][0], cfg)
	for _, c := range cmds[1:] {
		chain.AddFallback(c[0], &command.Player{Command: c})
	}
	return chain
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Client returns the backend client.
func (a *App) Client() *api.Client { return a.client }

// Store returns the conversation log.
func (a *App) Store() *conversation.Store { return a.store }

// Orchestrator returns the turn state machine.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// Recorder returns the microphone recorder.
func (a *App) Recorder() *capture.Recorder { return a.recorder }

// Playback returns the playback controller.
func (a *App) Playback() *playback.Controller { return a.playback }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the microphone, stops playback and flushes telemetry. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))

		// Run closers in reverse-init order.
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Debug("shutdown complete")
	})
	return shutdownErr
}
