package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Bhavikr1/spibot/internal/conversation"
	"github.com/Bhavikr1/spibot/internal/turn"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/types"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// maxExcerpt caps the citation excerpt printed under an answer.
const maxExcerpt = 200

// Renderer prints the conversation to a terminal or a plain writer. Streamed
// assistant text is written as it grows; everything else is written line by
// line. It is safe for concurrent use.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	tty bool

	// open is the index of the message whose line is still being written,
	// -1 when the cursor is at the start of a line.
	open  int
	shown string

	cited map[int]bool
	last  turn.Status
}

// NewRenderer returns a renderer writing to out. Prompts are only printed
// when out is a terminal.
func NewRenderer(out io.Writer) *Renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Renderer{out: out, tty: tty, open: -1, cited: make(map[int]bool)}
}

// Attach subscribes the renderer to store mutations and, when orch is
// non-nil, to turn status changes. The returned function detaches it from
// the store.
func (r *Renderer) Attach(store *conversation.Store, orch *turn.Orchestrator) (detach func()) {
	if orch != nil {
		r.mu.Lock()
		r.last = orch.Status()
		r.mu.Unlock()
		orch.OnStateChange(r.status)
	}
	return store.Subscribe(r.handle)
}

func label(role types.Role) string {
	if role == types.RoleUser {
		return "you: "
	}
	return "guide: "
}

func (r *Renderer) handle(ev conversation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := ev.Message
	switch ev.Kind {
	case conversation.EventAppended:
		r.closeLine()
		fmt.Fprint(r.out, label(m.Role), m.Content)
		r.open, r.shown = ev.Index, m.Content
		// A non-empty append is complete; an empty assistant message is the
		// placeholder of a streamed answer.
		if m.Role == types.RoleUser || m.Content != "" {
			r.closeLine()
			r.citations(ev.Index, m.Citations)
		}

	case conversation.EventUpdated:
		if ev.Index == r.open {
			r.grow(m)
		}
		if len(m.Citations) > 0 && !r.cited[ev.Index] {
			r.closeLine()
			r.citations(ev.Index, m.Citations)
		}

	case conversation.EventFinalized:
		if ev.Index == r.open {
			r.grow(m)
			r.closeLine()
		}
		r.citations(ev.Index, m.Citations)
	}
}

// grow writes the part of m.Content not yet on screen. Content that no longer
// extends what was shown is reprinted on a fresh line.
func (r *Renderer) grow(m types.Message) {
	if strings.HasPrefix(m.Content, r.shown) {
		fmt.Fprint(r.out, m.Content[len(r.shown):])
	} else {
		fmt.Fprint(r.out, "\n", label(m.Role), m.Content)
	}
	r.shown = m.Content
}

func (r *Renderer) closeLine() {
	if r.open < 0 {
		return
	}
	fmt.Fprintln(r.out)
	r.open, r.shown = -1, ""
}

func (r *Renderer) citations(index int, cs []types.Citation) {
	if len(cs) == 0 || r.cited[index] {
		return
	}
	r.cited[index] = true
	writeCitations(r.out, cs)
}

// writeCitations prints a numbered citation block.
func writeCitations(w io.Writer, cs []types.Citation) {
	for i, c := range cs {
		fmt.Fprintf(w, "  [%d] %s", i+1, c.Reference)
		switch {
		case c.Scripture != "" && c.Score > 0:
			fmt.Fprintf(w, " (%s, %.2f)", c.Scripture, c.Score)
		case c.Scripture != "":
			fmt.Fprintf(w, " (%s)", c.Scripture)
		}
		fmt.Fprintln(w)
		if c.Text != "" {
			fmt.Fprintf(w, "      %q\n", excerpt(c.Text))
		}
	}
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxExcerpt {
		return s
	}
	return string([]rune(s)[:maxExcerpt]) + "…"
}

// status prints a notice for transitions the user should see: recording,
// transcription and the start of answer playback.
func (r *Renderer) status(st turn.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.last
	r.last = st

	if st.State != prev.State {
		switch st.State {
		case turn.StateRecording:
			r.notice("recording... type /mic to stop or /cancel to discard")
		case turn.StateTranscribing:
			r.notice("transcribing...")
		}
	}
	if st.Playing && !prev.Playing {
		r.notice("playing answer (/stop to silence)")
	}
}

// Notice prints a one-line message outside the conversation.
func (r *Renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notice(fmt.Sprintf(format, args...))
}

func (r *Renderer) notice(msg string) {
	r.closeLine()
	fmt.Fprintf(r.out, "* %s\n", msg)
}

// Recorded reports the size of a finished recording.
func (r *Renderer) Recorded(clip audio.Clip) {
	r.Notice("recorded %s of audio (%s)",
		clip.Duration.Round(100*time.Millisecond),
		humanize.Bytes(uint64(len(clip.Data))),
	)
}

// Prompt prints the input prompt on terminals.
func (r *Renderer) Prompt() {
	if !r.tty {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open < 0 {
		fmt.Fprint(r.out, "> ")
	}
}

// History prints the whole conversation with relative timestamps.
func (r *Renderer) History(msgs []types.Message, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "* no messages yet")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(r.out, "[%s] %s%s\n", humanize.RelTime(m.Timestamp, now, "ago", "from now"), label(m.Role), m.Content)
		if len(m.Citations) > 0 {
			fmt.Fprintf(r.out, "      %d citation(s)\n", len(m.Citations))
		}
	}
}

// Status prints a status snapshot.
func (r *Renderer) Status(st turn.Status) {
	r.Notice("state=%s playing=%t language=%s messages=%d", st.State, st.Playing, st.Language, st.Messages)
}

// Answer prints a complete, non-streamed answer.
func (r *Renderer) Answer(answer string, cs []types.Citation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	fmt.Fprintln(r.out, label(types.RoleAssistant)+answer)
	writeCitations(r.out, cs)
}

// Citations prints a citation block on its own.
func (r *Renderer) Citations(cs []types.Citation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	writeCitations(r.out, cs)
}
