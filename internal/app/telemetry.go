package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Bhavikr1/spibot/internal/health"
	"github.com/Bhavikr1/spibot/internal/observe"
	"golang.org/x/sync/errgroup"
)

// telemetryShutdownTimeout bounds the graceful stop of the listener.
const telemetryShutdownTimeout = 5 * time.Second

// TelemetryHandler returns the handler of the telemetry listener: /healthz,
// /readyz (backend reachability) and, when the OTel SDK is installed,
// /metrics. Every route is instrumented.
func (a *App) TelemetryHandler() http.Handler {
	mux := http.NewServeMux()
	health.New([]health.Checker{
		{Name: "backend", Check: a.checkBackend},
	}).Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.MetricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkBackend(ctx context.Context) error {
	st, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	if !st.Healthy() {
		return fmt.Errorf("backend status %q", st.Status)
	}
	return nil
}

// RunTelemetry serves [App.TelemetryHandler] on the configured listen address
// until ctx is cancelled. It returns nil immediately when no address is set.
func (a *App) RunTelemetry(ctx context.Context) error {
	addr := a.cfg.Telemetry.ListenAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: telemetry listen: %w", err)
	}
	return a.ServeTelemetry(ctx, ln)
}

// ServeTelemetry serves [App.TelemetryHandler] on ln until ctx is cancelled,
// then shuts the server down gracefully. ln is closed on return.
func (a *App) ServeTelemetry(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.TelemetryHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("telemetry listener started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: telemetry serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
