// Package health serves the liveness and readiness endpoints of the optional
// telemetry listener.
//
//   - /healthz: liveness; 200 whenever the process can serve HTTP.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//     For spibot that means the question-answering backend is reachable.
//
// Responses are JSON objects with a top-level "status" ("ok" or "fail") and
// a "checks" map with the outcome and latency of each checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency is
// healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Result is the body of a readiness response.
type Result struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own timeout, and
// returns 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Run(r.Context())
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Run evaluates every checker and returns the aggregated result.
func (h *Handler) Run(ctx context.Context) Result {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(h.checkers))
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			cr := CheckResult{
				Status:    "ok",
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				cr.Status = "fail"
				cr.Error = err.Error()
			}

			mu.Lock()
			checks[c.Name] = cr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Status: "ok", Checks: checks}
	for _, cr := range checks {
		if cr.Status != "ok" {
			res.Status = "fail"
			break
		}
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
