package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/history"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/netsource"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/ws"
)

// HTTPClient makes REST calls to a reachd server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// State fetches /api/state.
func (c *HTTPClient) State(ctx context.Context) (*ws.StateResponse, error) {
	var s ws.StateResponse
	if err := c.get(ctx, "/api/state", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health(ctx context.Context) (*netsource.HealthSnapshot, error) {
	var h netsource.HealthSnapshot
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// History fetches /api/history.
func (c *HTTPClient) History(ctx context.Context) (*history.History, error) {
	var h history.History
	if err := c.get(ctx, "/api/history", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
