package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Bhavikr1/spibot/pkg/types"
)

// QueryRequest is the body shared by the whole and streamed query endpoints.
type QueryRequest struct {
	Query               string               `json:"query"`
	Language            string               `json:"language"`
	IncludeCitations    bool                 `json:"include_citations"`
	ConversationHistory []types.HistoryEntry `json:"conversation_history"`
}

// QueryResponse is the body of a whole (non-streamed) answer.
type QueryResponse struct {
	Answer     string           `json:"answer"`
	Citations  []types.Citation `json:"citations"`
	Language   string           `json:"language,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

// Query asks a question and waits for the whole answer.
func (c *Client) Query(ctx context.Context, q QueryRequest) (*QueryResponse, error) {
	req, err := c.newJSONRequest(ctx, PathQuery, q)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "query")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "query", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// QueryStream asks a question and returns the framed answer stream once the
// response headers have arrived. The caller must close the returned body.
func (c *Client) QueryStream(ctx context.Context, q QueryRequest) (io.ReadCloser, error) {
	req, err := c.newJSONRequest(ctx, PathQueryStream, q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(req, "query_stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("api: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// HealthStatus is the backend's self-reported health.
type HealthStatus struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

// Healthy reports whether the backend says it is healthy and every component
// is up.
func (h *HealthStatus) Healthy() bool {
	if h.Status != "healthy" {
		return false
	}
	for _, up := range h.Components {
		if !up {
			return false
		}
	}
	return true
}

// Health fetches the backend health report.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathHealth, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	resp, err := c.do(req, "health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "health", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// SearchRequest filters a direct scripture search.
type SearchRequest struct {
	Query     string
	Scripture string // optional source filter
	Language  string
	Limit     int // 0 means the backend default
}

// SearchResponse lists the passages most similar to the query.
type SearchResponse struct {
	Query   string           `json:"query"`
	Results []types.Citation `json:"results"`
	Count   int              `json:"count"`
}

// SearchScripture runs a retrieval-only search without generating an answer.
func (c *Client) SearchScripture(ctx context.Context, s SearchRequest) (*SearchResponse, error) {
	q := url.Values{"query": {s.Query}}
	if s.Scripture != "" {
		q.Set("scripture", s.Scripture)
	}
	if s.Language != "" {
		q.Set("language", s.Language)
	}
	if s.Limit > 0 {
		q.Set("limit", strconv.Itoa(s.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathSearch, q), nil)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	resp, err := c.do(req, "search")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "search", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}
