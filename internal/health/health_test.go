package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func get(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %s: %v (body %q)", path, err, rec.Body.String())
	}
	return rec, res
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "backend", Check: func(context.Context) error { return errors.New("down") }}})
	rec, res := get(t, h, "/healthz")
	if rec.Code != http.StatusOK || res.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", rec.Code, res.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := Checker{Name: "config", Check: func(context.Context) error { return nil }}
	down := Checker{Name: "backend", Check: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
	}{
		{name: "no checkers", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "all pass", checkers: []Checker{ok}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "one fails", checkers: []Checker{ok, down}, wantCode: http.StatusServiceUnavailable, wantStatus: "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, res := get(t, New(tt.checkers), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
			if len(res.Checks) != len(tt.checkers) {
				t.Errorf("got %d checks, want %d", len(res.Checks), len(tt.checkers))
			}
		})
	}
}

func TestReadyz_ReportsError(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "backend", Check: func(context.Context) error { return errors.New("HTTP 502") }}})
	_, res := get(t, h, "/readyz")
	cr := res.Checks["backend"]
	if cr.Status != "fail" || cr.Error != "HTTP 502" {
		t.Errorf("check = %+v", cr)
	}
}

func TestReadyz_TimeoutCancelsCheck(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	rec, res := get(t, h, "/readyz")
	if time.Since(start) > 2*time.Second {
		t.Fatal("check was not bounded by the timeout")
	}
	if rec.Code != http.StatusServiceUnavailable || res.Checks["slow"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("got %d %+v", rec.Code, res.Checks["slow"])
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var checkers []Checker
	for _, name := range []string{"a", "b"} {
		checkers = append(checkers, Checker{Name: name, Check: func(ctx context.Context) error {
			select {
			case release <- struct{}{}:
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}})
	}

	// Each check only passes if the other is running at the same time.
	rec, _ := get(t, New(checkers, WithTimeout(2*time.Second)), "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}
