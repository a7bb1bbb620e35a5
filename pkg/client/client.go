package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:9615/api"

// Client talks to a running appvisor daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", &h)
	return h, err
}

// List returns the status of every app in name order.
func (c *Client) List(ctx context.Context) ([]AppStatus, error) {
	var out []AppStatus
	if err := c.do(ctx, http.MethodGet, "/apps", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context, name string) (AppStatus, error) {
	var st AppStatus
	err := c.do(ctx, http.MethodGet, appPath(name, ""), &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.action(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.action(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.action(ctx, name, "restart")
}

// Reset clears the restart counter and errored state of an app.
func (c *Client) Reset(ctx context.Context, name string) error {
	return c.action(ctx, name, "reset")
}

func (c *Client) action(ctx context.Context, name, verb string) error {
	c.logger.Debug("Sending app action", "name", name, "action", verb)
	return c.do(ctx, http.MethodPost, appPath(name, verb), nil)
}

func appPath(name, verb string) string {
	p := "/apps/" + url.PathEscape(name)
	if verb != "" {
		p += "/" + verb
	}
	return p
}

// do performs a request and decodes a JSON body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Message = er.Error
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", apiErr.Message)
	return apiErr
}
