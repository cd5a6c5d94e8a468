package app

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/Bhavikr1/spibot/internal/api"
)

// Ask answers one question. With stream set the answer goes through the turn
// orchestrator and is printed as it arrives; otherwise the non-streaming
// query endpoint is used.
func (a *App) Ask(ctx context.Context, question string, stream bool, out io.Writer) error {
	r := NewRenderer(out)
	if stream {
		detach := r.Attach(a.store, nil)
		defer detach()
		return a.orch.SubmitText(ctx, question)
	}

	resp, err := a.client.Query(ctx, api.QueryRequest{
		Query:            question,
		Language:         a.orch.Language(),
		IncludeCitations: a.cfg.Conversation.IncludeCitations,
	})
	if err != nil {
		return err
	}
	r.Answer(resp.Answer, resp.Citations)
	return nil
}

// Search prints the scripture passages matching query.
func (a *App) Search(ctx context.Context, req api.SearchRequest, out io.Writer) error {
	if req.Language == "" {
		req.Language = a.orch.Language()
	}
	resp, err := a.client.SearchScripture(ctx, req)
	if err != nil {
		return err
	}
	r := NewRenderer(out)
	if len(resp.Results) == 0 {
		r.Notice("no passages found for %q", req.Query)
		return nil
	}
	r.Notice("%d passage(s) for %q", len(resp.Results), req.Query)
	r.Citations(resp.Results)
	return nil
}

// CheckHealth prints the backend component report. It returns an error when
// the backend is unreachable or not healthy.
func (a *App) CheckHealth(ctx context.Context, out io.Writer) error {
	st, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", a.client.BaseURL(), st.Status)
	for _, name := range slices.Sorted(maps.Keys(st.Components)) {
		state := "down"
		if st.Components[name] {
			state = "ok"
		}
		fmt.Fprintf(out, "  %-16s %s\n", name, state)
	}
	if !st.Healthy() {
		return fmt.Errorf("app: backend is %s", st.Status)
	}
	return nil
}
