package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"machine/internal/api"
	"machine/internal/config"
	"machine/internal/ingress"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const defaultClientTimeout = 10 * time.Second

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the API at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}
}

// ClientFromConfig derives the API URL from paths.api_bind. Wildcard hosts
// are dialled on loopback.
func ClientFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("paths.api_bind is empty; the daemon API is disabled")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("parse paths.api_bind %q: %w", bind, err)
	}
	if port == "0" {
		return nil, fmt.Errorf("paths.api_bind %q uses an ephemeral port; set a fixed port to reach the daemon", bind)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return NewClient("http://"+net.JoinHostPort(host, port), cfg.Paths.APIToken, 0), nil
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches /machine/health. A degraded daemon returns the payload and
// a non-nil error.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	status, err := c.do(ctx, http.MethodGet, "/machine/health", nil, &resp)
	if err != nil {
		return resp, err
	}
	if status != http.StatusOK {
		return resp, fmt.Errorf("daemon unhealthy: %s", resp.Detail)
	}
	return resp, nil
}

// Status fetches the worker status.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.expect(ctx, http.MethodGet, "/machine/status", nil, &resp, http.StatusOK); err != nil {
		return api.StatusResponse{}, err
	}
	return resp, nil
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, statuses ...string) ([]api.Task, error) {
	path := "/machine/tasks"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, s := range statuses {
			query.Add("status", s)
		}
		path += "?" + query.Encode()
	}
	var resp api.TaskListResponse
	if err := c.expect(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Produce submits a produce request.
func (c *Client) Produce(ctx context.Context, req ingress.ProduceRequest) (ingress.ProduceResult, error) {
	var resp ingress.ProduceResult
	if err := c.expect(ctx, http.MethodPost, "/machine/produce", req, &resp, http.StatusAccepted); err != nil {
		return ingress.ProduceResult{}, err
	}
	return resp, nil
}

// Cancel asks the daemon to cancel a piece. A refused cancellation is not an
// error; inspect the response.
func (c *Client) Cancel(ctx context.Context, pieceID string) (api.CancelResponse, error) {
	var resp api.CancelResponse
	path := "/machine/tasks/" + url.PathEscape(pieceID) + "/cancel"
	err := c.expect(ctx, http.MethodPost, path, nil, &resp, http.StatusOK, http.StatusConflict, http.StatusNotFound)
	return resp, err
}

func (c *Client) expect(ctx context.Context, method, path string, body, out any, accepted ...int) error {
	var raw json.RawMessage
	status, err := c.do(ctx, method, path, body, &raw)
	if err != nil {
		return err
	}
	for _, code := range accepted {
		if status == code {
			if out == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
	}
	var apiErr api.ErrorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", status, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d", status)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDaemonUnavailable(err) {
			return 0, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
		}
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, errors.New("daemon rejected credentials; check paths.api_token")
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}
