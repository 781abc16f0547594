package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
)

const (
	defaultTimeout = 500 * time.Millisecond

	// maxHealthBody caps how much of the health response is read.
	maxHealthBody = 64 << 10
)

// healthResponse is the body served by the engine's /health endpoint.
type healthResponse struct {
	Status  string `json:"status"`
	Healthy *bool  `json:"healthy"`
}

// Client probes the engine health endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates an engine health client from configuration.
//
// No request is made here; an unreachable engine only shows up in Check.
func New(cfg config.EngineConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}

	timeout := defaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Check calls GET {url}/health.
//
// A 2xx response with a JSON body is reported as-is. A 2xx response with
// an empty body counts as healthy with status "ok". When the body omits
// the healthy flag it is derived from status.
func (c *Client) Check(ctx context.Context) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return false, "", fmt.Errorf("engine health check: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("engine health check: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		return false, "", fmt.Errorf("engine health check: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, "", fmt.Errorf("%w: HTTP %d", ErrUnhealthy, resp.StatusCode)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return true, "ok", nil
	}

	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return false, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	status := hr.Status
	if status == "" {
		status = "unknown"
	}
	if hr.Healthy != nil {
		return *hr.Healthy, status, nil
	}
	return isHealthyStatus(status), status, nil
}

// isHealthyStatus maps common status words to a health flag.
func isHealthyStatus(status string) bool {
	switch strings.ToLower(status) {
	case "ok", "healthy", "up", "pass", "running":
		return true
	default:
		return false
	}
}
