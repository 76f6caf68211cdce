package syncqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
)

// Dispatcher replays one action against the upstream backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, action *Action) error
}

const dispatchTimeout = 10 * time.Second

// HTTPDispatcher sends actions as JSON requests with a bearer token.
type HTTPDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the given upstream base URL.
func NewHTTPDispatcher(baseURL, token string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: dispatchTimeout},
	}
}

// NewHTTPDispatcherFromEnv reads UPSTREAM_BASE_URL and UPSTREAM_API_TOKEN.
func NewHTTPDispatcherFromEnv() *HTTPDispatcher {
	return NewHTTPDispatcher(
		env.GetEnv("UPSTREAM_BASE_URL", "http://localhost:4000"),
		env.GetEnv("UPSTREAM_API_TOKEN", ""),
	)
}

// Dispatch sends the action. Any non-2xx response counts as failure.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, action *Action) error {
	url := d.baseURL + "/" + strings.TrimLeft(action.Endpoint, "/")

	var body io.Reader
	if len(action.Payload) > 0 {
		body = bytes.NewReader(action.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}
