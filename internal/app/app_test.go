package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bhavikr1/spibot/internal/api"
	"github.com/Bhavikr1/spibot/internal/app"
	"github.com/Bhavikr1/spibot/internal/config"
	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/internal/turn"
	"github.com/Bhavikr1/spibot/pkg/audio"
	"github.com/Bhavikr1/spibot/pkg/audio/mock"
	"github.com/Bhavikr1/spibot/pkg/audio/wav"
	"github.com/Bhavikr1/spibot/pkg/types"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// backend is a fake question-answering service.
type backend struct {
	srv *httptest.Server

	mu      sync.Mutex
	queries []api.QueryRequest
	healthy bool
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.PathQueryStream, func(w http.ResponseWriter, r *http.Request) {
		var q api.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&q)
		b.mu.Lock()
		b.queries = append(b.queries, q)
		b.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: \"Dharma is \"\ndata: \"duty.\"\ndata: [DONE]\n")
	})
	mux.HandleFunc("POST "+api.PathVoice, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(api.HeaderTranscription, "What is dharma?")
		w.Header().Set(api.HeaderCitations, "[{'reference': 'Bhagavad Gita 2.47', 'text': 'You have a right to action', 'scripture': 'bhagavad_gita', 'score': 0.9}]")
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav.Encode(make([]byte, 4410), 22050, 1))
	})
	mux.HandleFunc("POST "+api.PathQuery, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"answer":"Act without attachment.","citations":[{"reference":"Bhagavad Gita 2.47","text":"You have a right to action","scripture":"bhagavad_gita","score":0.92}]}`)
	})
	mux.HandleFunc("GET "+api.PathSearch, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "nothing" {
			io.WriteString(w, `{"query":"nothing","results":[],"count":0}`)
			return
		}
		io.WriteString(w, `{"query":"duty","results":[{"reference":"Bhagavad Gita 3.35","text":"Better is one's own duty","scripture":"bhagavad_gita","score":0.8}],"count":1}`)
	})
	mux.HandleFunc("GET "+api.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		healthy := b.healthy
		b.mu.Unlock()
		if healthy {
			io.WriteString(w, `{"status":"healthy","components":{"llm":true,"vector_store":true}}`)
			return
		}
		io.WriteString(w, `{"status":"degraded","components":{"llm":false,"vector_store":true}}`)
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) setHealthy(v bool) {
	b.mu.Lock()
	b.healthy = v
	b.mu.Unlock()
}

func (b *backend) languages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, q := range b.queries {
		out = append(out, q.Language)
	}
	return out
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.Conversation.Pacing = 0
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// syncBuffer is a goroutine-safe output sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── New / Shutdown ──────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	if a.Orchestrator() == nil || a.Store() == nil || a.Recorder() == nil || a.Playback() == nil {
		t.Fatal("New() left a subsystem nil")
	}
	if got, want := a.Client().BaseURL(), b.srv.URL; got != want {
		t.Errorf("BaseURL() = %q, want %q", got, want)
	}
	if got := a.Orchestrator().Language(); got != "en" {
		t.Errorf("Language() = %q, want en", got)
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig("ftp://example.com")
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("New() with ftp base url: want error")
	}
}

func TestShutdown_ReleasesMicrophone(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	dev := &mock.Device{}
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(dev), app.WithPlayer(&mock.Player{}))

	if err := a.Orchestrator().ToggleRecording(context.Background()); err != nil {
		t.Fatalf("ToggleRecording: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	s := dev.LastStream().(*mock.Stream)
	if !s.AllStopped() {
		t.Error("microphone still held after Shutdown")
	}
	if got := a.Orchestrator().State(); got != turn.StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); err == nil {
		t.Error("Shutdown with cancelled context: want error")
	}
}

// ─── REPL ────────────────────────────────────────────────────────────────────

func TestRunREPL_TextTurn(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	var out syncBuffer
	in := strings.NewReader("/lang hi\nWhat is dharma?\n")
	if err := a.RunREPL(context.Background(), in, &out); err != nil {
		t.Fatalf("RunREPL: %v", err)
	}

	msgs := a.Store().Messages()
	if len(msgs) != 2 || msgs[1].Content != "Dharma is duty." {
		t.Fatalf("messages = %+v", msgs)
	}
	if got := b.languages(); len(got) != 1 || got[0] != "hi" {
		t.Errorf("query languages = %v, want [hi]", got)
	}
	for _, want := range []string{"language set to hi", "you: What is dharma?", "guide: Dharma is duty.\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunREPL_Commands(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	tests := []struct {
		input string
		want  string
	}{
		{"/help\n", "/mic"},
		{"/lang\n", "language: en"},
		{"/lang fr\n", "unsupported language"},
		{"/status\n", "state=idle"},
		{"/history\n", "no messages yet"},
		{"/bogus\n", "unknown command /bogus"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out syncBuffer
			if err := a.RunREPL(context.Background(), strings.NewReader(tt.input), &out); err != nil {
				t.Fatalf("RunREPL: %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out.String())
			}
		})
	}
}

func TestRunREPL_QuitStopsReading(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	var out syncBuffer
	if err := a.RunREPL(context.Background(), strings.NewReader("/quit\nnever sent\n"), &out); err != nil {
		t.Fatalf("RunREPL: %v", err)
	}
	if n := a.Store().Len(); n != 0 {
		t.Errorf("store has %d messages after /quit, want 0", n)
	}
}

func TestRunREPL_VoiceTurn(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	dev := &mock.Device{}
	player := &mock.Player{AutoFinish: true}
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(dev), app.WithPlayer(player))

	pr, pw := io.Pipe()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- a.RunREPL(context.Background(), pr, &out) }()

	io.WriteString(pw, "/mic\n")
	waitFor(t, "microphone", func() bool { return dev.OpenCount() == 1 })
	waitFor(t, "recording state", func() bool { return a.Orchestrator().State() == turn.StateRecording })
	dev.LastStream().(*mock.Stream).Push(audio.AudioFrame{Data: make([]byte, 882), SampleRate: 44100, Channels: 1})
	io.WriteString(pw, "/mic\n")
	pw.Close()

	if err := <-done; err != nil {
		t.Fatalf("RunREPL: %v", err)
	}

	msgs := a.Store().Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != types.RoleUser || msgs[0].Content != "What is dharma?" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if got := player.PlayCount(); got != 1 {
		t.Errorf("PlayCount() = %d, want 1", got)
	}
	for _, want := range []string{"recording...", "recorded", "you: What is dharma?", "guide: Dharma is duty."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunREPL_MicrophoneDenied(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	dev := &mock.Device{OpenError: audio.ErrPermissionDenied}
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(dev), app.WithPlayer(&mock.Player{}))

	var out syncBuffer
	if err := a.RunREPL(context.Background(), strings.NewReader("/mic\n"), &out); err != nil {
		t.Fatalf("RunREPL: %v", err)
	}
	if !strings.Contains(out.String(), "microphone permission denied") {
		t.Errorf("output missing permission notice:\n%s", out.String())
	}
	if n := a.Store().Len(); n != 0 {
		t.Errorf("store has %d messages, want 0", n)
	}
}

func TestRunREPL_ContextCancelled(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunREPL(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunREPL: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunREPL did not return after cancellation")
	}
}

// ─── One-shot commands ───────────────────────────────────────────────────────

func TestAsk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream bool
		want   []string
	}{
		{"streamed", true, []string{"guide: Dharma is duty.\n"}},
		{"query", false, []string{"guide: Act without attachment.\n", "[1] Bhagavad Gita 2.47 (bhagavad_gita, 0.92)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newBackend(t)
			a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

			var out bytes.Buffer
			if err := a.Ask(context.Background(), "What should I do?", tt.stream, &out); err != nil {
				t.Fatalf("Ask: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	var out bytes.Buffer
	if err := a.Search(context.Background(), api.SearchRequest{Query: "duty", Limit: 3}, &out); err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, want := range []string{"1 passage(s) for \"duty\"", "[1] Bhagavad Gita 3.35 (bhagavad_gita, 0.80)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := a.Search(context.Background(), api.SearchRequest{Query: "nothing"}, &out); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(out.String(), "no passages found") {
		t.Errorf("output = %q, want no-results notice", out.String())
	}
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))

	var out bytes.Buffer
	if err := a.CheckHealth(context.Background(), &out); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	want := b.srv.URL + ": healthy\n  llm              ok\n  vector_store     ok\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	b.setHealthy(false)
	out.Reset()
	if err := a.CheckHealth(context.Background(), &out); err == nil {
		t.Error("CheckHealth with degraded backend: want error")
	}
	if !strings.Contains(out.String(), "llm              down") {
		t.Errorf("output = %q, want llm down", out.String())
	}
}

// ─── Telemetry ───────────────────────────────────────────────────────────────

func TestTelemetryHandler(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	a := newApp(t, testConfig(b.srv.URL), app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}))
	srv := httptest.NewServer(a.TelemetryHandler())
	t.Cleanup(srv.Close)

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/healthz"); got != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", got)
	}
	if got := get("/readyz"); got != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", got)
	}
	b.setHealthy(false)
	if got := get("/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("/readyz with degraded backend = %d, want 503", got)
	}
	// No SDK installed without a listen address.
	if got := get("/metrics"); got != http.StatusNotFound {
		t.Errorf("/metrics = %d, want 404", got)
	}
}

func TestServeTelemetry_Metrics(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b.srv.URL)
	cfg.Telemetry.ListenAddr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg,
		app.WithDevice(&mock.Device{}), app.WithPlayer(&mock.Player{}), app.WithVersion("test"))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServeTelemetry(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "spibot_api_requests") {
		t.Errorf("/metrics does not expose backend request counts:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeTelemetry: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeTelemetry did not stop")
	}
}
