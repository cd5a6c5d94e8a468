package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Bhavikr1/spibot/internal/capture"
	"github.com/Bhavikr1/spibot/internal/turn"
	"golang.org/x/sync/errgroup"
)

const helpText = `commands:
  <text>        ask a question
  /mic          start recording, or stop and send the recording
  /cancel       discard the current recording
  /stop         stop answer playback
  /lang [en|hi] show or change the answer language
  /history      show the conversation
  /status       show the client state
  /help         show this help
  /quit         leave`

// errQuit ends the REPL loop.
var errQuit = errors.New("app: quit")

// Run executes the interactive REPL on in/out next to the telemetry listener.
// It returns when in is exhausted, /quit is entered or ctx is cancelled.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunTelemetry(gctx) })
	g.Go(func() error {
		defer cancel()
		return a.RunREPL(gctx, in, out)
	})
	return g.Wait()
}

// RunREPL reads commands and questions line by line. Turns run in the
// background so that recording can be stopped and status queried while an
// answer streams. At end of input it waits for running turns; on /quit or
// cancellation it cancels them.
func (a *App) RunREPL(ctx context.Context, in io.Reader, out io.Writer) error {
	r := NewRenderer(out)
	detach := r.Attach(a.store, a.orch)
	defer detach()
	a.recorder.OnStop(r.Recorded)

	turnCtx, cancelTurns := context.WithCancel(ctx)
	defer cancelTurns()
	var turns errgroup.Group
	spawn := func(fn func(ctx context.Context) error) {
		turns.Go(func() error {
			a.report(r, fn(turnCtx))
			return nil
		})
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	r.Notice("connected to %s, type /help for commands", a.client.BaseURL())
	for {
		r.Prompt()
		select {
		case <-ctx.Done():
			cancelTurns()
			_ = turns.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = turns.Wait()
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("app: read input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := a.dispatch(turnCtx, r, strings.TrimSpace(line), spawn); err != nil {
				if errors.Is(err, errQuit) {
					cancelTurns()
					_ = turns.Wait()
					return nil
				}
				return err
			}
		}
	}
}

// dispatch handles one input line. Commands that wait on the network run
// through spawn; starting a recording is synchronous so that a following
// /mic always stops it.
func (a *App) dispatch(ctx context.Context, r *Renderer, line string, spawn func(func(context.Context) error)) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		spawn(func(ctx context.Context) error { return a.orch.SubmitText(ctx, line) })
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.Notice("%s", helpText)
	case "/mic":
		if a.orch.State() == turn.StateRecording {
			spawn(a.orch.ToggleRecording)
			return nil
		}
		a.report(r, a.orch.ToggleRecording(ctx))
	case "/cancel":
		if err := a.orch.CancelRecording(); err != nil {
			slog.Debug("cancel recording", "err", err)
		}
	case "/stop":
		a.playback.Stop()
	case "/lang":
		if arg == "" {
			r.Notice("language: %s", a.orch.Language())
			return nil
		}
		if err := a.orch.SetLanguage(arg); err != nil {
			a.report(r, err)
			return nil
		}
		r.Notice("language set to %s", a.orch.Language())
	case "/history":
		r.History(a.store.Messages(), time.Now())
	case "/status":
		r.Status(a.orch.Status())
	default:
		r.Notice("unknown command %s, type /help", cmd)
	}
	return nil
}

// report turns an action error into a notice. Failed turns already carry an
// apology in the conversation, so those are only logged.
func (a *App) report(r *Renderer, err error) {
	if err == nil {
		return
	}
	var ce *capture.CaptureError
	switch {
	case errors.Is(err, turn.ErrBusy):
		r.Notice("busy, wait for the current answer")
	case errors.Is(err, turn.ErrEmptyInput):
		r.Notice("nothing to send")
	case errors.Is(err, turn.ErrUnsupportedLanguage):
		r.Notice("unsupported language, choose one of %s", strings.Join(turn.SupportedLanguages, ", "))
	case errors.As(err, &ce) && ce.Kind == capture.KindPermissionDenied:
		r.Notice("microphone permission denied")
	case errors.As(err, &ce):
		r.Notice("microphone unavailable: %v", ce.Err)
	case errors.Is(err, context.Canceled):
	default:
		slog.Debug("turn failed", "err", err)
	}
}
