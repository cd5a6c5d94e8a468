package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Bhavikr1/spibot/internal/conversation"
	"github.com/Bhavikr1/spibot/internal/turn"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/types"
)

func TestRenderer_StreamedAnswer(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	store := conversation.New()
	r := NewRenderer(&out)
	detach := r.Attach(store, nil)
	defer detach()

	store.Append(types.NewUserMessage("What is karma?"))
	store.BeginStreaming(types.NewAssistantMessage(""))
	store.UpdateLast("Karma")
	store.UpdateLast("Karma is action.")
	store.EndStreaming()

	want := "you: What is karma?\nguide: Karma is action.\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_RewrittenContent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	store := conversation.New()
	r := NewRenderer(&out)
	r.Attach(store, nil)

	store.BeginStreaming(types.NewAssistantMessage(""))
	store.UpdateLast("abc")
	store.UpdateLast("xyz")
	store.EndStreaming()

	want := "guide: abc\nguide: xyz\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_Citations(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	store := conversation.New()
	r := NewRenderer(&out)
	r.Attach(store, nil)

	cites := []types.Citation{
		{Reference: "Bhagavad Gita 2.47", Text: "You have a right\nto action", Scripture: "bhagavad_gita", Score: 0.91},
		{Reference: "Ramayana 1.1"},
	}
	m := types.NewAssistantMessage("Audio response")
	m.Citations = cites
	store.Append(m)

	idx, _ := store.BeginStreaming(types.NewAssistantMessage(""))
	store.UpdateLast("Act.")
	store.EndStreaming()
	store.AttachCitations(idx, cites[:1])

	got := out.String()
	for _, want := range []string{
		"guide: Audio response\n  [1] Bhagavad Gita 2.47 (bhagavad_gita, 0.91)\n      \"You have a right to action\"\n  [2] Ramayana 1.1\n",
		"guide: Act.\n  [1] Bhagavad Gita 2.47",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "[1]"); n != 2 {
		t.Errorf("citation blocks printed %d times, want 2", n)
	}
}

func TestRenderer_NoticeBreaksStreamedLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	store := conversation.New()
	r := NewRenderer(&out)
	r.Attach(store, nil)

	store.BeginStreaming(types.NewAssistantMessage(""))
	store.UpdateLast("Part")
	r.Notice("busy, wait for the current answer")

	want := "guide: Part\n* busy, wait for the current answer\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_Status(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := NewRenderer(&out)

	r.status(turn.Status{State: turn.StateRecording})
	r.status(turn.Status{State: turn.StateRecording})
	r.status(turn.Status{State: turn.StateTranscribing})
	r.status(turn.Status{State: turn.StateStreaming, Playing: true})

	want := "* recording... type /mic to stop or /cancel to discard\n" +
		"* transcribing...\n" +
		"* playing answer (/stop to silence)\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_History(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := types.NewUserMessage("Hello")
	u.Timestamp = now.Add(-3 * time.Minute)
	a := types.NewAssistantMessage("Namaste")
	a.Timestamp = now.Add(-2 * time.Minute)
	a.Citations = []types.Citation{{Reference: "x"}}

	var out bytes.Buffer
	NewRenderer(&out).History([]types.Message{u, a}, now)

	want := "[3 minutes ago] you: Hello\n" +
		"[2 minutes ago] guide: Namaste\n" +
		"      1 citation(s)\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_Recorded(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	NewRenderer(&out).Recorded(audio.Clip{Data: make([]byte, 88244), Duration: time.Second})

	if got, want := out.String(), "* recorded 1s of audio (88 kB)\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ॐ", maxExcerpt+5)
	got := excerpt(long)
	if n := len([]rune(got)); n != maxExcerpt+1 {
		t.Errorf("excerpt rune length = %d, want %d", n, maxExcerpt+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("excerpt %q lacks ellipsis", got)
	}
	if got := excerpt("  a \n b "); got != "a b" {
		t.Errorf("excerpt collapses whitespace: got %q", got)
	}
}
