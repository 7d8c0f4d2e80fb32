// Package sourcehost implements the Source Host Integration (C9):
// deterministic, non-agent-controlled version-control operations against
// GitHub, plus the git operations themselves which run inside the sandbox.
// The REST client is grounded on the teacher's pkg/runbook/github.go
// plain net/http idiom, generalized from read-only content fetches to
// repo create / secret install.
package sourcehost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/box"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// RepoNameFor derives the deterministic repo name for a project (§4.9).
func RepoNameFor(projectID string) string {
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(projectID), "-")
	return "turbobackend-" + slug
}

// Config configures the GitHub REST client.
type Config struct {
	Owner string
	Token string
}

// Client talks to the GitHub REST API.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}, cfg: cfg}
}

// RepoInfo is the subset of GitHub's repo response this system needs.
type RepoInfo struct {
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
}

// CreateRepo creates a private repository under the configured owner with
// auto_init=false. A 422 "already exists" response is treated as success
// (§4.9 step 1, §6 "Source host API").
func (c *Client) CreateRepo(ctx context.Context, name string) (*RepoInfo, error) {
	body := map[string]any{
		"name":      name,
		"private":   true,
		"auto_init": false,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create repo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.github.com/user/repos", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create repo %s: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnprocessableEntity && strings.Contains(string(respBody), "already exists") {
		return c.GetRepo(ctx, name)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create repo %s returned HTTP %d: %s", name, resp.StatusCode, string(respBody))
	}

	var info RepoInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("decode create repo response: %w", err)
	}
	return &info, nil
}

// GetRepo fetches an existing repository's info.
func (c *Client) GetRepo(ctx context.Context, name string) (*RepoInfo, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s", c.cfg.Owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get repo %s returned HTTP %d", name, resp.StatusCode)
	}

	var info RepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode get repo response: %w", err)
	}
	return &info, nil
}

// AuthenticatedRemote embeds the worker's access token into the repo's
// clone URL so git push/fetch inside the sandbox can authenticate without
// a credential helper.
func (c *Client) AuthenticatedRemote(name string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", c.cfg.Token, c.cfg.Owner, name)
}

type repoPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// InstallSecret seals value with the repo's current public key and PUTs it
// as a repository secret (§4.9 "GitHub Actions secret").
func (c *Client) InstallSecret(ctx context.Context, repoName, secretName, value string) error {
	pubKey, err := c.fetchPublicKey(ctx, repoName)
	if err != nil {
		return fmt.Errorf("fetch repo public key: %w", err)
	}

	sealed, err := sealSecret(value, pubKey.Key)
	if err != nil {
		return fmt.Errorf("seal secret value: %w", err)
	}

	body := map[string]string{
		"encrypted_value": sealed,
		"key_id":          pubKey.KeyID,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal secret body: %w", err)
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/secrets/%s", c.cfg.Owner, repoName, secretName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("install secret %s: %w", secretName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("install secret %s returned HTTP %d: %s", secretName, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) fetchPublicKey(ctx context.Context, repoName string) (*repoPublicKey, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/secrets/public-key", c.cfg.Owner, repoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("returned HTTP %d", resp.StatusCode)
	}

	var key repoPublicKey
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return nil, fmt.Errorf("decode public key response: %w", err)
	}
	return &key, nil
}

// sealSecret encrypts value with the repo's base64-encoded NaCl box public
// key, exactly as GitHub Actions' "Create or update a repository secret"
// API requires.
func sealSecret(value, base64PublicKey string) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(base64PublicKey)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	var pubKey [32]byte
	copy(pubKey[:], rawKey)

	sealed, err := box.SealAnonymous(nil, []byte(value), &pubKey, nil)
	if err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}
