// Package observe provides observability primitives for spibot:
// OpenTelemetry metrics, tracing helpers, trace-aware logging and the HTTP
// middleware used by the telemetry listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Components fall back to [DefaultMetrics] when
// no instance is injected; tests should build their own with [NewMetrics] and
// a manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all spibot metrics.
const meterName = "github.com/Bhavikr1/spibot"

// Metrics holds every metric instrument of the client. The underlying OTel
// instruments are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks a whole turn from submission to Idle. Attributes:
	// flow (text, voice_stream, voice_immediate) and outcome (ok, error).
	TurnDuration metric.Float64Histogram

	// StageDuration tracks one pipeline stage. Attribute: stage.
	StageDuration metric.Float64Histogram

	// APIRequests counts backend calls. Attributes: endpoint, status.
	APIRequests metric.Int64Counter

	// APIDuration tracks backend call latency up to response headers.
	// Attribute: endpoint.
	APIDuration metric.Float64Histogram

	// StreamFragments counts fragments applied from streamed answers.
	StreamFragments metric.Int64Counter

	// StreamMalformed counts stream frames whose payload was not JSON.
	StreamMalformed metric.Int64Counter

	// StreamUpstreamErrors counts [ERROR] frames skipped in streamed answers.
	StreamUpstreamErrors metric.Int64Counter

	// TurnsRejected counts submissions refused by the orchestrator.
	// Attribute: reason.
	TurnsRejected metric.Int64Counter

	// ActiveTurns is 1 while a turn is in progress.
	ActiveTurns metric.Int64UpDownCounter

	// PlaybackActive is 1 while an answer is playing.
	PlaybackActive metric.Int64UpDownCounter

	// HTTPRequestDuration tracks telemetry listener requests. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Streamed answers with
// pacing routinely run for tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("spibot.turn.duration",
		metric.WithDescription("Duration of a conversation turn by flow and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("spibot.stage.duration",
		metric.WithDescription("Duration of a turn pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.APIRequests, err = m.Int64Counter("spibot.api.requests",
		metric.WithDescription("Backend API requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.APIDuration, err = m.Float64Histogram("spibot.api.duration",
		metric.WithDescription("Backend API latency to response headers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StreamFragments, err = m.Int64Counter("spibot.stream.fragments",
		metric.WithDescription("Answer fragments applied from streamed responses."),
	); err != nil {
		return nil, err
	}
	if met.StreamMalformed, err = m.Int64Counter("spibot.stream.malformed_frames",
		metric.WithDescription("Stream frames whose payload was not a JSON string."),
	); err != nil {
		return nil, err
	}
	if met.StreamUpstreamErrors, err = m.Int64Counter("spibot.stream.upstream_errors",
		metric.WithDescription("Upstream error frames skipped in streamed responses."),
	); err != nil {
		return nil, err
	}
	if met.TurnsRejected, err = m.Int64Counter("spibot.turn.rejected",
		metric.WithDescription("Submissions rejected by the turn orchestrator by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTurns, err = m.Int64UpDownCounter("spibot.active_turns",
		metric.WithDescription("Number of turns in progress."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackActive, err = m.Int64UpDownCounter("spibot.playback.active",
		metric.WithDescription("Number of answers currently playing."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("spibot.http.request.duration",
		metric.WithDescription("Telemetry listener request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. It panics if instrument creation fails, which does not
// happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records the duration and outcome of a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, flow, outcome string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("flow", flow), Attr("outcome", outcome)),
	)
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordAPIRequest records one backend call. status is the HTTP status code as
// text, or "error" when no response was received.
func (m *Metrics) RecordAPIRequest(ctx context.Context, endpoint, status string, d time.Duration) {
	m.APIRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("endpoint", endpoint), Attr("status", status)),
	)
	m.APIDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("endpoint", endpoint)))
}

// RecordStream adds the counters of one reassembled stream.
func (m *Metrics) RecordStream(ctx context.Context, fragments, malformed, upstreamErrors int) {
	m.StreamFragments.Add(ctx, int64(fragments))
	m.StreamMalformed.Add(ctx, int64(malformed))
	m.StreamUpstreamErrors.Add(ctx, int64(upstreamErrors))
}

// RecordRejected counts one rejected submission.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	m.TurnsRejected.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
