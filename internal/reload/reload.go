// Package reload notifies a running Home Assistant instance that its
// configuration changed, by calling the reload services over the REST API.
// It is invoked only after a push applied with zero failed paths, and its
// failures are reported, never raised.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Service is one named reload operation.
type Service struct {
	Name string // human-readable, e.g. "automations"
	Path string // API service path, e.g. "automation/reload"
}

// Services is the fixed set of reload operations issued after a push.
var Services = []Service{
	{Name: "core configuration", Path: "homeassistant/reload_core_config"},
	{Name: "automations", Path: "automation/reload"},
	{Name: "scripts", Path: "script/reload"},
	{Name: "scenes", Path: "scene/reload"},
}

// Client calls the reload services with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a reload client. The token must be present; checking it
// here keeps a missing credential from ever reaching the network.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if token == "" {
		return nil, errors.New("reload: missing access token")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Result is the outcome of one reload service call.
type Result struct {
	Service Service
	Status  int
	Err     error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// ReloadAll calls every reload service in order and returns one result per
// service. Individual failures do not stop the remaining calls and are
// never retried.
func (c *Client) ReloadAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(Services))
	for _, svc := range Services {
		results = append(results, c.reload(ctx, svc))
	}
	return results
}

// AllOK reports whether every service call in results succeeded.
func AllOK(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

func (c *Client) reload(ctx context.Context, svc Service) Result {
	url := fmt.Sprintf("%s/api/services/%s", c.baseURL, svc.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Result{Service: svc, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Service: svc, Err: classify(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{
			Service: svc,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return Result{Service: svc, Status: resp.StatusCode}
}

// classify keeps the two transport failure modes distinguishable in
// reports: the instance took too long, or it could not be reached at all.
func classify(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	return fmt.Errorf("connection: %w", err)
}
