// Package llm probes the model endpoint the external tool is configured
// against. Answer generation itself happens inside the external tool; the
// panel only needs to know whether the endpoint is up so it can warn the
// user before an expensive run.
package llm

import (
	"context"
	"net/http"
	"time"
)

// Client checks reachability of an Ollama (or OpenAI-compatible) endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given endpoint root. The probe timeout is
// deliberately short; an unreachable endpoint is a warning, not a blocker.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Second},
	}
}

// IsReachable reports whether the endpoint answers with HTTP 200.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
