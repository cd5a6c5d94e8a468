// Package turn sequences one user interaction at a time: typed questions are
// streamed back into the conversation, recorded questions are transcribed and
// then either streamed or answered with ready-made audio.
//
// The [Orchestrator] is the only writer of the conversation store. It rejects
// new submissions and recordings while a turn is in progress and always
// returns to Idle, appending a fixed apology when a turn fails.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Bhavikr1/spibot/internal/api"
	"github.com/Bhavikr1/spibot/internal/conversation"
	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/internal/stream"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SupportedLanguages lists the language tags the backend accepts.
var SupportedLanguages = []string{"en", "hi"}

// VoiceMode selects how a recorded question is answered.
type VoiceMode string

const (
	// VoiceModeStream transcribes the recording and streams a text answer,
	// then plays the synthesised answer returned with the transcript.
	VoiceModeStream VoiceMode = "stream"

	// VoiceModeImmediate uses the single round trip only: the spoken answer is
	// played while a labelled assistant message carries its citations.
	VoiceModeImmediate VoiceMode = "immediate"
)

// Backend is the subset of the API client used by turns.
type Backend interface {
	QueryStream(ctx context.Context, q api.QueryRequest) (io.ReadCloser, error)
	Voice(ctx context.Context, clip audio.Clip, language string) (*api.VoiceResponse, error)
}

// Recorder captures one clip at a time.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (audio.Clip, error)
	Abort() error
}

// Player plays spoken answers.
type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
	Playing() bool
	OnStateChange(fn func(playing bool))
}

// Config holds turn behaviour settings.
type Config struct {
	// Language is the initial language tag. Defaults to "en".
	Language string

	// IncludeCitations is sent with every query.
	IncludeCitations bool

	// HistorySize is the number of prior messages sent as context.
	// Defaults to 6.
	HistorySize int

	// VoiceMode defaults to [VoiceModeStream].
	VoiceMode VoiceMode
}

// Deps are the collaborators of an [Orchestrator]. Store and Backend are
// required; without Recorder voice turns are rejected and without Player
// spoken answers are skipped.
type Deps struct {
	Backend     Backend
	Store       *conversation.Store
	Recorder    Recorder
	Player      Player
	Reassembler *stream.Reassembler
	Metrics     *observe.Metrics
}

// Orchestrator is the turn state machine. All exported methods are safe for
// concurrent use; at most one turn runs at a time.
type Orchestrator struct {
	cfg         Config
	backend     Backend
	store       *conversation.Store
	recorder    Recorder
	player      Player
	reassembler *stream.Reassembler
	metrics     *observe.Metrics

	mu        sync.Mutex
	state     State
	language  string
	listeners []func(Status)
}

// New returns an idle orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Backend == nil {
		return nil, errors.New("turn: backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("turn: conversation store is required")
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if !slices.Contains(SupportedLanguages, cfg.Language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, cfg.Language)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 6
	}
	if cfg.VoiceMode == "" {
		cfg.VoiceMode = VoiceModeStream
	}
	if deps.Reassembler == nil {
		deps.Reassembler = stream.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:         cfg,
		backend:     deps.Backend,
		store:       deps.Store,
		recorder:    deps.Recorder,
		player:      deps.Player,
		reassembler: deps.Reassembler,
		metrics:     deps.Metrics,
		language:    cfg.Language,
	}
	if o.player != nil {
		o.player.OnStateChange(func(bool) { o.notify() })
	}
	return o, nil
}

// ─── State ───────────────────────────────────────────────────────────────────

// OnStateChange registers fn to receive a status snapshot after every state
// or playback change. fn runs synchronously and must not block.
func (o *Orchestrator) OnStateChange(fn func(Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{State: o.state, Language: o.language}
	o.mu.Unlock()
	if o.player != nil {
		st.Playing = o.player.Playing()
	}
	st.Messages = o.store.Len()
	return st
}

// Language returns the language tag used for the next turn.
func (o *Orchestrator) Language() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.language
}

// SetLanguage changes the language of subsequent turns.
func (o *Orchestrator) SetLanguage(lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !slices.Contains(SupportedLanguages, lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	o.mu.Lock()
	o.language = lang
	o.mu.Unlock()
	o.notify()
	return nil
}

// transition moves from → to and reports whether the machine was in from.
func (o *Orchestrator) transition(from, to State) bool {
	o.mu.Lock()
	if o.state != from {
		o.mu.Unlock()
		return false
	}
	o.state = to
	o.mu.Unlock()
	o.notify()
	return true
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) notify() {
	st := o.Status()
	o.mu.Lock()
	listeners := o.listeners
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// ─── Text flow ───────────────────────────────────────────────────────────────

// SubmitText runs a text turn: the question is appended, the answer streamed
// into a new assistant message. It blocks until the turn is over. ErrBusy and
// ErrEmptyInput reject the submission without touching the conversation; any
// other error is a *[StageError] for a turn that ended with an apology.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if !o.transition(StateIdle, StateSubmitting) {
		o.metrics.RecordRejected(ctx, "busy")
		return ErrBusy
	}

	t := o.begin(ctx, "text")
	history := o.store.HistoryWindow(o.cfg.HistorySize)
	var err error
	if _, aerr := o.store.Append(types.NewUserMessage(text)); aerr != nil {
		err = &StageError{Stage: StageSubmit, Err: aerr}
	}

	var body io.ReadCloser
	if err == nil {
		err = o.stage(t, StageSubmit, func(ctx context.Context) error {
			var err error
			body, err = o.openStream(ctx, t, text, history)
			return err
		})
	}
	if err == nil {
		err = o.stage(t, StageStream, func(ctx context.Context) error {
			return o.consumeStream(ctx, body)
		})
		body.Close()
	}
	o.end(t, err, TextApology)
	return err
}

func (o *Orchestrator) openStream(ctx context.Context, t *turn, query string, history []types.HistoryEntry) (io.ReadCloser, error) {
	return o.backend.QueryStream(ctx, api.QueryRequest{
		Query:               query,
		Language:            t.language,
		IncludeCitations:    o.cfg.IncludeCitations,
		ConversationHistory: history,
	})
}

// consumeStream reassembles body into a new in-flight assistant message.
func (o *Orchestrator) consumeStream(ctx context.Context, body io.Reader) error {
	o.setState(StateStreaming)
	if _, err := o.store.BeginStreaming(types.NewAssistantMessage("")); err != nil {
		return err
	}
	res, runErr := o.reassembler.Run(ctx, body, func(u stream.Update) {
		if err := o.store.UpdateLast(u.Text); err != nil {
			observe.Logger(ctx).Warn("turn: update streaming message", "err", err)
		}
	})
	if _, err := o.store.EndStreaming(); err != nil && runErr == nil {
		runErr = err
	}
	o.metrics.RecordStream(ctx, res.Fragments, res.Malformed, res.UpstreamErrors)
	observe.Logger(ctx).Debug("turn: stream finished",
		"fragments", res.Fragments,
		"malformed", res.Malformed,
		"upstream_errors", res.UpstreamErrors,
		"sentinel", res.Done,
	)
	return runErr
}

// ─── Voice flow ──────────────────────────────────────────────────────────────

// ToggleRecording starts a recording when idle, or stops it and runs the
// voice turn when recording. Stopping blocks until the turn is over.
//
// A failure to acquire the microphone is returned as a *[StageError] for the
// capture stage and leaves the conversation untouched.
func (o *Orchestrator) ToggleRecording(ctx context.Context) error {
	if o.recorder == nil {
		return &StageError{Stage: StageCapture, Err: errors.New("no microphone configured")}
	}

	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.state = StateRecording
		o.mu.Unlock()
		o.notify()
		if err := o.recorder.Start(ctx); err != nil {
			if !o.transition(StateRecording, StateIdle) {
				// CancelRecording ran while the microphone was being acquired.
				return nil
			}
			observe.Logger(ctx).Warn("turn: could not start recording", "err", err)
			return &StageError{Stage: StageCapture, Err: err}
		}
		o.mu.Lock()
		cancelled := o.state != StateRecording
		o.mu.Unlock()
		if cancelled {
			return o.recorder.Abort()
		}
		return nil
	case StateRecording:
		o.state = StateTranscribing
		o.mu.Unlock()
		o.notify()
		return o.runVoice(ctx)
	default:
		o.mu.Unlock()
		o.metrics.RecordRejected(ctx, "busy")
		return ErrBusy
	}
}

// CancelRecording discards an active recording and returns to Idle.
func (o *Orchestrator) CancelRecording() error {
	if !o.transition(StateRecording, StateIdle) {
		return nil
	}
	return o.recorder.Abort()
}

// voiceTurn carries data between voice stages.
type voiceTurn struct {
	clip    audio.Clip
	resp    *api.VoiceResponse
	history []types.HistoryEntry
	body    io.ReadCloser
}

type stageFunc struct {
	name string
	run  func(ctx context.Context, t *turn, v *voiceTurn) error
}

func (o *Orchestrator) voiceStages() []stageFunc {
	stages := []stageFunc{
		{StageCapture, o.stopCapture},
		{StageTranscribe, o.transcribe},
	}
	if o.cfg.VoiceMode == VoiceModeImmediate {
		return append(stages, stageFunc{StagePlayback, o.answerImmediately})
	}
	return append(stages,
		stageFunc{StageSubmit, o.submitTranscript},
		stageFunc{StageStream, o.streamTranscriptAnswer},
		stageFunc{StagePlayback, o.playAnswer},
	)
}

func (o *Orchestrator) runVoice(ctx context.Context) error {
	t := o.begin(ctx, "voice")
	v := &voiceTurn{}
	defer func() {
		if v.body != nil {
			v.body.Close()
		}
	}()

	var err error
	for _, s := range o.voiceStages() {
		if err = o.stage(t, s.name, func(ctx context.Context) error { return s.run(ctx, t, v) }); err != nil {
			break
		}
	}
	o.end(t, err, VoiceApology)
	return err
}

func (o *Orchestrator) stopCapture(_ context.Context, _ *turn, v *voiceTurn) error {
	clip, err := o.recorder.Stop()
	if err != nil {
		return err
	}
	if clip.Empty() {
		return ErrEmptyInput
	}
	v.clip = clip
	return nil
}

// transcribe uploads the recording and appends the recognised question.
func (o *Orchestrator) transcribe(ctx context.Context, t *turn, v *voiceTurn) error {
	resp, err := o.backend.Voice(ctx, v.clip, t.language)
	if err != nil {
		return err
	}
	if resp.TranscriptMissing {
		observe.Logger(ctx).Info("turn: backend sent no transcript, using fallback label")
	}
	v.resp = resp
	v.history = o.store.HistoryWindow(o.cfg.HistorySize)
	_, err = o.store.Append(types.NewUserMessage(resp.Transcript))
	return err
}

func (o *Orchestrator) submitTranscript(ctx context.Context, t *turn, v *voiceTurn) error {
	o.setState(StateSubmitting)
	body, err := o.openStream(ctx, t, v.resp.Transcript, v.history)
	if err != nil {
		return err
	}
	v.body = body
	return nil
}

func (o *Orchestrator) streamTranscriptAnswer(ctx context.Context, _ *turn, v *voiceTurn) error {
	return o.consumeStream(ctx, v.body)
}

// playAnswer plays the synthesised answer, if any. Playback problems are
// logged only: the answer text is already in the conversation.
func (o *Orchestrator) playAnswer(ctx context.Context, _ *turn, v *voiceTurn) error {
	if o.player == nil || v.resp.Answer.Empty() {
		return nil
	}
	if err := o.player.Play(ctx, v.resp.Answer); err != nil {
		observe.Logger(ctx).Warn("turn: could not play spoken answer", "err", err)
	}
	return nil
}

// answerImmediately appends the labelled assistant message and starts the
// spoken answer concurrently.
func (o *Orchestrator) answerImmediately(ctx context.Context, t *turn, v *voiceTurn) error {
	var g errgroup.Group
	g.Go(func() error {
		msg := types.NewAssistantMessage(SpokenAnswerLabel)
		msg.Citations = v.resp.Citations
		_, err := o.store.Append(msg)
		return err
	})
	g.Go(func() error {
		return o.playAnswer(ctx, t, v)
	})
	return g.Wait()
}

// ─── Turn bookkeeping ────────────────────────────────────────────────────────

type turn struct {
	ctx      context.Context
	span     trace.Span
	id       string
	flow     string
	language string
	start    time.Time
}

func (o *Orchestrator) begin(ctx context.Context, flow string) *turn {
	id := uuid.NewString()
	ctx = observe.WithTurnID(ctx, id)
	ctx, span := observe.StartSpan(ctx, "turn."+flow,
		trace.WithAttributes(
			attribute.String("turn.id", id),
			attribute.String("turn.flow", flow),
		),
	)
	o.metrics.ActiveTurns.Add(ctx, 1)
	t := &turn{
		ctx:      ctx,
		span:     span,
		id:       id,
		flow:     flow,
		language: o.Language(),
		start:    time.Now(),
	}
	span.SetAttributes(attribute.String("turn.language", t.language))
	observe.Logger(ctx).Debug("turn: started", "flow", flow, "language", t.language)
	return t
}

// stage runs fn as a named pipeline stage: its own span, a duration metric
// and failure attribution. Errors already attributed are passed through.
func (o *Orchestrator) stage(t *turn, name string, fn func(ctx context.Context) error) error {
	ctx, span := observe.StartSpan(t.ctx, "turn.stage."+name)
	start := time.Now()
	err := fn(ctx)
	o.metrics.RecordStage(ctx, name, time.Since(start))
	observe.EndSpan(span, err)

	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: name, Err: err}
}

// end closes the turn. On failure any in-flight message is frozen and the
// apology appended; the machine always returns to Idle.
func (o *Orchestrator) end(t *turn, err error, apology string) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if o.store.Streaming() {
			_, _ = o.store.EndStreaming()
		}
		if _, aerr := o.store.Append(types.NewAssistantMessage(apology)); aerr != nil {
			observe.Logger(t.ctx).Error("turn: append apology", "err", aerr)
		}
		observe.Logger(t.ctx).Warn("turn: failed", "flow", t.flow, "err", err)
	}

	d := time.Since(t.start)
	o.metrics.RecordTurn(t.ctx, t.flow, outcome, d)
	o.metrics.ActiveTurns.Add(t.ctx, -1)
	observe.EndSpan(t.span, err)
	observe.Logger(t.ctx).Debug("turn: finished", "flow", t.flow, "outcome", outcome, "duration", d)
	o.setState(StateIdle)
}
