// Package api is the HTTP client for the question-answering backend.
//
// It covers the text query endpoints (whole and streamed), the voice endpoint
// that uploads a recorded question, and the auxiliary health and scripture
// search endpoints. Every request runs through one circuit breaker; nothing is
// retried.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Bhavikr1/spibot/internal/observe"
	"github.com/Bhavikr1/spibot/internal/resilience"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// Endpoint paths relative to the base URL.
const (
	PathQuery       = "/api/text/query"
	PathQueryStream = "/api/text/query/stream"
	PathVoice       = "/api/voice/query"
	PathHealth      = "/health"
	PathSearch      = "/api/scripture/search"
)

// maxErrorBody caps how much of a failed response body is kept for the error.
const maxErrorBody = 4 << 10

// TransportError reports a failed backend call: either no response was
// received (StatusCode 0) or the response status was not 2xx.
type TransportError struct {
	// Op names the endpoint, e.g. "query_stream".
	Op string

	// StatusCode is the HTTP status, or 0 when the request never completed.
	StatusCode int

	// Detail is the backend's error message, when it sent one.
	Detail string

	Err error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("api: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is plausibly transient: no response,
// a 5xx status, or 429.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each whole request, including reading a streamed body.
// Zero keeps the transport defaults.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New returns a client for baseURL. An empty baseURL means [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api: base url %q: missing host", baseURL)
	}

	c := &Client{
		base:       u,
		httpClient: &http.Client{},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "backend",
			IsFailure: IsBackendFailure,
		}),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// BaseURL returns the normalised backend address.
func (c *Client) BaseURL() string { return c.base.String() }

// IsBackendFailure is the breaker's failure predicate: transport failures and
// server-side statuses count, client errors and cancellation do not.
func IsBackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return true
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends req through the breaker and returns a response with a 2xx status.
// The caller owns the body. Metrics and a client span cover the call up to the
// response headers.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	ctx, span := observe.StartSpan(req.Context(), "api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	req = req.WithContext(ctx)

	var resp *http.Response
	start := time.Now()
	err := c.breaker.Execute(func() error {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			defer r.Body.Close()
			return &TransportError{Op: op, StatusCode: r.StatusCode, Detail: errorDetail(r.Body)}
		}
		resp = r
		return nil
	})
	elapsed := time.Since(start)

	status := "error"
	var te *TransportError
	switch {
	case err == nil:
		status = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	case errors.As(err, &te) && te.StatusCode != 0:
		status = strconv.Itoa(te.StatusCode)
		span.SetAttributes(attribute.Int("http.response.status_code", te.StatusCode))
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
		err = &TransportError{Op: op, Err: err}
	}
	c.metrics.RecordAPIRequest(ctx, op, status, elapsed)
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Debug("api: request failed", "op", op, "status", status, "err", err)
		return nil, err
	}
	return resp, nil
}

// errorDetail extracts a message from an error body. FastAPI sends
// {"detail": "..."}; anything else is returned as trimmed text.
func errorDetail(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var fe struct {
		Detail any `json:"detail"`
	}
	if err := decodeJSON(body, &fe); err == nil && fe.Detail != nil {
		if s, ok := fe.Detail.(string); ok {
			return s
		}
		return fmt.Sprint(fe.Detail)
	}
	return strings.TrimSpace(string(body))
}
