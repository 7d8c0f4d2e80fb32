// Package llmapi is the LLM adapter: a plain HTTP/JSON client for a
// single non-streaming "generate" call, used by the intent detectors (C4),
// the schema designer (C5), and the agentic loop (C8).
//
// The teacher's own LLM client (pkg/agent/llm_client.go, llm_grpc.go) talks
// to a companion Python service over gRPC against a generated protobuf
// package that is not present in the retrieved reference pack (no
// proto/llmv1 client was checked in). Rather than fabricate a protobuf
// stub, this adapter is grounded on the teacher's plain net/http JSON
// client idiom used elsewhere for external HTTP integrations
// (pkg/runbook/github.go) — see the DOMAIN STACK table in SPEC_FULL.md and
// DESIGN.md.
package llmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures the adapter's HTTP transport.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 120 * time.Second}
}

// Client calls a non-streaming "generate" endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is the adapter's return value for one generate call.
type Result struct {
	Text  string
	Usage Usage
	Model string
}

type generateRequest struct {
	Model              string `json:"model"`
	Prompt             string `json:"prompt"`
	SystemInstructions string `json:"systemInstructions,omitempty"`
	JSONMode           bool   `json:"jsonMode,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

// Generate issues one prompt/response round trip. systemInstructions may be
// empty. jsonMode requests a provider-enforced JSON-only response, used by
// the intent detectors, the schema designer, and the agentic loop.
func (c *Client) Generate(ctx context.Context, prompt, systemInstructions string, jsonMode bool) (*Result, error) {
	reqBody := generateRequest{
		Model:              c.cfg.Model,
		Prompt:             prompt,
		SystemInstructions: systemInstructions,
		JSONMode:           jsonMode,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call llm generate endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm generate returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}

	return &Result{Text: parsed.Text, Usage: parsed.Usage, Model: parsed.Model}, nil
}
