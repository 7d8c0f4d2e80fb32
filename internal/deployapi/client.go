// Package deployapi is the thin HTTP vendor contract for the deployment
// platform's API (app list/create/secrets), grounded on the same plain
// net/http client idiom as internal/sandboxapi and
// pkg/runbook/github.go.
package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures the deployment platform's HTTP transport.
type Config struct {
	BaseURL string
	Token   string
	Org     string
}

// Client talks to the deployment platform's REST API.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}, cfg: cfg}
}

// App is one deployed application as reported by the platform.
type App struct {
	Name string `json:"name"`
}

// ListApps returns every app visible to the configured token.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var apps []App
	if err := c.do(ctx, http.MethodGet, "/v1/apps", nil, &apps); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// CreateApp creates an app under the configured organization. "already
// exists" (or HTTP 422) responses are treated as success and return nil
// (§4.10).
func (c *Client) CreateApp(ctx context.Context, name string) error {
	body := map[string]string{"app_name": name, "org_slug": c.cfg.Org}
	if err := c.do(ctx, http.MethodPost, "/v1/apps", body, nil); err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "422") {
			return nil
		}
		return fmt.Errorf("create app %s: %w", name, err)
	}
	return nil
}

// SetSecrets installs one or more named secrets on an app.
func (c *Client) SetSecrets(ctx context.Context, appName string, secrets map[string]string) error {
	path := fmt.Sprintf("/v1/apps/%s/secrets", appName)
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"secrets": secrets}, nil); err != nil {
		return fmt.Errorf("set secrets on app %s: %w", appName, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned HTTP %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
