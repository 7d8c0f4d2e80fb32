// Package sandbox implements the Sandbox Lifecycle (C6): provisioning,
// project initialization, file/command operations, object-store sync, and
// teardown against an ephemeral build sandbox. Grounded on the teacher's
// per-call context.WithTimeout idiom used throughout pkg/mcp for bounding
// remote-process calls, generalized from MCP tool invocation to sandbox
// exec/file operations.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/dbprovision"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/sandboxapi"
	"github.com/turbobackend/worker/internal/store"
)

// Config bounds sandbox operation timeouts (§4.6, §5).
type Config struct {
	ExecTimeout    time.Duration
	InstallTimeout time.Duration
	HealthTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExecTimeout:    120 * time.Second,
		InstallTimeout: 300 * time.Second,
		HealthTimeout:  10 * time.Second,
	}
}

// Sandbox is a handle to one provisioned sandbox, scoped to a single job.
type Sandbox struct {
	client    *sandboxapi.Client
	queries   *store.Queries
	cfg       Config
	SandboxID string
	ProjectID string
	sessionID string
}

// Lifecycle provisions and tears down sandboxes.
type Lifecycle struct {
	client  *sandboxapi.Client
	queries *store.Queries
	cfg     Config
}

func NewLifecycle(client *sandboxapi.Client, queries *store.Queries, cfg Config) *Lifecycle {
	return &Lifecycle{client: client, queries: queries, cfg: cfg}
}

// Provision creates a fresh sandbox, installs the file-tree utility and the
// object-store CLI it will need later, and records a Container Session row.
func (l *Lifecycle) Provision(ctx context.Context, projectID string) (*Sandbox, error) {
	resp, err := l.client.CreateSandbox(ctx, sandboxapi.CreateSandboxRequest{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("provision sandbox: %w", err)
	}

	sb := &Sandbox{client: l.client, queries: l.queries, cfg: l.cfg, SandboxID: resp.SandboxID, ProjectID: projectID}

	installCtx, cancel := context.WithTimeout(ctx, l.cfg.InstallTimeout)
	defer cancel()
	if _, err := sb.client.Exec(installCtx, sb.SandboxID, sandboxapi.ExecRequest{Command: "apt-get install -y tree"}); err != nil {
		slog.Warn("Failed to install file-tree utility", "sandbox_id", sb.SandboxID, "error", err)
	}
	if _, err := sb.client.Exec(installCtx, sb.SandboxID, sandboxapi.ExecRequest{Command: "curl -fsSL https://rclone.org/install.sh | bash"}); err != nil {
		slog.Warn("Failed to install object-store CLI", "sandbox_id", sb.SandboxID, "error", err)
	}

	session := models.ContainerSession{
		SessionID:   uuid.NewString(),
		ProjectID:   projectID,
		ContainerID: sb.SandboxID,
		Provider:    "sandboxapi",
		Status:      models.SessionActive,
		StartedAt:   time.Now(),
	}
	if err := l.queries.CreateContainerSession(ctx, session); err != nil {
		return nil, fmt.Errorf("record container session: %w", err)
	}
	sb.sessionID = session.SessionID
	return sb, nil
}

// InitNew initializes a brand-new project inside the sandbox: minimal HTTP
// server scaffold, package manager, the packages implied by detected
// intents, script overrides, .env, health endpoint, and an initial git
// commit. No separate project config file is written.
func (s *Sandbox) InitNew(ctx context.Context, env InitEnv) error {
	steps := []string{
		"npm create -y vite-node-server .",
		"curl -fsSL https://bun.sh/install | bash",
	}
	packages := []string{"express"}
	if env.DatabaseInfo != nil {
		packages = append(packages, "pg")
	}
	if env.NeedsAuth {
		packages = append(packages, "better-auth")
	}
	if env.NeedsPayment {
		packages = append(packages, "stripe")
	}
	steps = append(steps, fmt.Sprintf("bun add %s", strings.Join(packages, " ")))

	for _, cmd := range steps {
		if err := s.runInstall(ctx, cmd); err != nil {
			return fmt.Errorf("initialize project: %w", err)
		}
	}

	if err := s.overwriteScripts(ctx); err != nil {
		return err
	}
	if err := s.writeEnvFile(ctx, env); err != nil {
		return err
	}
	if err := s.Write(ctx, "server/api/health.get.js", healthEndpointSource); err != nil {
		return fmt.Errorf("write health endpoint: %w", err)
	}

	gitInit := []string{
		"git init",
		`git config user.email "worker@turbobackend.dev"`,
		`git config user.name "turbobackend-worker"`,
	}
	for _, cmd := range gitInit {
		if err := s.run(ctx, cmd); err != nil {
			return fmt.Errorf("initialize git repository: %w", err)
		}
	}
	if err := s.Write(ctx, ".gitignore", defaultGitignore); err != nil {
		return fmt.Errorf("write gitignore: %w", err)
	}
	if err := s.run(ctx, "git add -A"); err != nil {
		return fmt.Errorf("stage initial commit: %w", err)
	}
	if err := s.run(ctx, `git commit -m "Initial project scaffold"`); err != nil {
		return fmt.Errorf("create initial commit: %w", err)
	}
	return nil
}

// InitExisting is a no-op: the sandbox's working directory is assumed to
// have already been populated by a clone (§4.6, modification intent).
func (s *Sandbox) InitExisting(ctx context.Context) error {
	return nil
}

// InitEnv carries everything InitNew needs to populate the generated
// project's environment and package set.
type InitEnv struct {
	DatabaseInfo  *dbprovision.DatabaseInfo
	NeedsAuth     bool
	NeedsPayment  bool
	WorkerAPIKeys map[string]string
	Placeholders  []IntegrationPlaceholder
}

func (s *Sandbox) overwriteScripts(ctx context.Context) error {
	// Scripts are overwritten via a small inline node edit rather than a
	// full package.json rewrite, preserving whatever the scaffold already
	// declared for other fields.
	cmd := `node -e "const fs=require('fs');const p=JSON.parse(fs.readFileSync('package.json'));` +
		`p.scripts={...p.scripts,dev:'node server/index.js',build:'echo no-build-step',preview:'node server/index.js'};` +
		`fs.writeFileSync('package.json',JSON.stringify(p,null,2))"`
	if err := s.run(ctx, cmd); err != nil {
		return fmt.Errorf("overwrite package scripts: %w", err)
	}
	return nil
}

func (s *Sandbox) writeEnvFile(ctx context.Context, env InitEnv) error {
	var b strings.Builder
	for key, value := range env.WorkerAPIKeys {
		fmt.Fprintf(&b, "%s=%s\n", key, value)
	}
	if env.DatabaseInfo != nil {
		fmt.Fprintf(&b, "DB_HOST=%s\n", env.DatabaseInfo.Host)
		fmt.Fprintf(&b, "DB_PORT=%d\n", env.DatabaseInfo.Port)
		fmt.Fprintf(&b, "DB_NAME=%s\n", env.DatabaseInfo.DBName)
		fmt.Fprintf(&b, "DB_USER=%s\n", env.DatabaseInfo.User)
		fmt.Fprintf(&b, "DB_PASSWORD=%s\n", env.DatabaseInfo.Password)
	}
	if len(env.Placeholders) > 0 {
		b.WriteString("# REQUIRED: replace each placeholder below with your own value\n")
	}
	for _, ph := range env.Placeholders {
		fmt.Fprintf(&b, "%s=<YOUR_%s>\n", ph.VariableName, ph.VariableName)
	}
	return s.Write(ctx, ".env", b.String())
}

const healthEndpointSource = `export default defineEventHandler(() => ({ status: "ok" }))
`

const defaultGitignore = "node_modules/\n.env\ndist/\n.cache/\n*.log\n"

// Exec runs a command relative to the project root, bounded by the
// configured exec timeout.
func (s *Sandbox) Exec(ctx context.Context, command string) (*sandboxapi.ExecResponse, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	resp, err := s.client.Exec(execCtx, s.SandboxID, sandboxapi.ExecRequest{Command: command})
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w", command, err)
	}
	return resp, nil
}

func (s *Sandbox) run(ctx context.Context, command string) error {
	resp, err := s.Exec(ctx, command)
	if err != nil {
		return err
	}
	if resp.ExitCode != 0 {
		return fmt.Errorf("command %q exited %d: %s", command, resp.ExitCode, resp.Stderr)
	}
	return nil
}

func (s *Sandbox) runInstall(ctx context.Context, command string) error {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	defer cancel()
	resp, err := s.client.Exec(execCtx, s.SandboxID, sandboxapi.ExecRequest{Command: command})
	if err != nil {
		return fmt.Errorf("exec %q: %w", command, err)
	}
	if resp.ExitCode != 0 {
		return fmt.Errorf("command %q exited %d: %s", command, resp.ExitCode, resp.Stderr)
	}
	return nil
}

// Write writes a file relative to the project root.
func (s *Sandbox) Write(ctx context.Context, path, content string) error {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	if err := s.client.WriteFile(execCtx, s.SandboxID, path, content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Read returns the contents of a file relative to the project root.
func (s *Sandbox) Read(ctx context.Context, path string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	content, err := s.client.ReadFile(execCtx, s.SandboxID, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// Delete removes a file relative to the project root.
func (s *Sandbox) Delete(ctx context.Context, path string) error {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	if err := s.client.DeleteFile(execCtx, s.SandboxID, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Download retrieves a file's raw bytes.
func (s *Sandbox) Download(ctx context.Context, path string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	data, err := s.client.DownloadFile(execCtx, s.SandboxID, path)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

// excludedFromSync lists the path prefixes never mirrored to the object
// store (§4.6).
var excludedFromSync = []string{"node_modules", ".git", "dist", ".cache", ".env", "fly.toml"}

// SyncToObjectStore mirrors the sandbox tree to bucket/projectId/, excluding
// build artifacts, VCS metadata, and secrets, via the object-store CLI
// installed during Provision.
func (s *Sandbox) SyncToObjectStore(ctx context.Context, bucket string) error {
	var excludes strings.Builder
	for _, e := range excludedFromSync {
		fmt.Fprintf(&excludes, " --exclude %q", e)
	}
	cmd := fmt.Sprintf("rclone sync . remote:%s/%s/%s", bucket, s.ProjectID, excludes.String())
	if err := s.run(ctx, cmd); err != nil {
		return fmt.Errorf("sync sandbox to object store: %w", err)
	}
	return nil
}

// Teardown stops and deletes the sandbox. Errors are logged and tolerated
// by callers whose outer operation already succeeded (§4.6).
func (s *Sandbox) Teardown(ctx context.Context) {
	if err := s.client.DeleteSandbox(ctx, s.SandboxID); err != nil {
		slog.Warn("Sandbox teardown failed", "sandbox_id", s.SandboxID, "error", err)
	}
	if err := s.queries.CompleteContainerSession(ctx, s.sessionID, models.SessionCompleted); err != nil {
		slog.Warn("Failed to mark container session complete", "sandbox_id", s.SandboxID, "error", err)
	}
}
