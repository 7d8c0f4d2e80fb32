package sourcehost

import (
	"context"
	"fmt"

	"github.com/turbobackend/worker/internal/sandbox"
)

// corsMiddlewareSource is a permissive default CORS middleware: sets the
// standard headers and short-circuits preflight requests.
const corsMiddlewareSource = `export function cors(req, res, next) {
  res.setHeader("Access-Control-Allow-Origin", "*");
  res.setHeader("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS");
  res.setHeader("Access-Control-Allow-Headers", "Content-Type, Authorization");
  if (req.method === "OPTIONS") {
    return res.sendStatus(204);
  }
  next();
}
`

// DeployConfig carries what the CI workflow and deployment config files
// need: the app's deterministic name and target region.
type DeployConfig struct {
	AppName string
	Region  string
}

func ciWorkflowSource() string {
	return `name: deploy
on:
  push:
    branches: [main]
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: superfly/flyctl-actions/setup-flyctl@master
      - run: flyctl deploy --remote-only
        env:
          FLY_API_TOKEN: ${{ secrets.FLY_API_TOKEN }}
`
}

func deployConfigSource(cfg DeployConfig) string {
	return fmt.Sprintf(`app = %q
primary_region = %q

[build]

[http_service]
  internal_port = 3000
  force_https = true
  auto_stop_machines = true
  auto_start_machines = true
  min_machines_running = 0

[[vm]]
  size = "shared-cpu-1x"
  memory = "256mb"
`, cfg.AppName, cfg.Region)
}

const containerRecipeSource = `FROM node:22-slim
WORKDIR /app
COPY package.json bun.lockb* ./
RUN npm install -g bun && bun install --production
COPY . .
EXPOSE 3000
CMD ["bun", "run", "dev"]
`

// InjectCORS writes the permissive CORS middleware file (§4.9 "Injections").
func InjectCORS(ctx context.Context, sb *sandbox.Sandbox) error {
	if err := sb.Write(ctx, "server/middleware/cors.js", corsMiddlewareSource); err != nil {
		return fmt.Errorf("inject cors middleware: %w", err)
	}
	return nil
}

// InjectDeployFiles writes the CI workflow, deployment config, and
// container recipe files.
func InjectDeployFiles(ctx context.Context, sb *sandbox.Sandbox, cfg DeployConfig) error {
	if err := sb.Write(ctx, ".github/workflows/deploy.yml", ciWorkflowSource()); err != nil {
		return fmt.Errorf("inject ci workflow: %w", err)
	}
	if err := sb.Write(ctx, "fly.toml", deployConfigSource(cfg)); err != nil {
		return fmt.Errorf("inject deployment config: %w", err)
	}
	if err := sb.Write(ctx, "Dockerfile", containerRecipeSource); err != nil {
		return fmt.Errorf("inject container recipe: %w", err)
	}
	return nil
}

// CommitInjections stages and commits the injected files in a single
// deterministic commit, separate from the agent's own commits, and pushes.
func CommitInjections(ctx context.Context, sb *sandbox.Sandbox) error {
	if _, err := sb.Exec(ctx, "git add -A"); err != nil {
		return fmt.Errorf("stage injected files: %w", err)
	}
	if _, err := sb.Exec(ctx, `git commit -m "Add CORS, CI, and deployment configuration" --allow-empty`); err != nil {
		return fmt.Errorf("commit injected files: %w", err)
	}
	if _, err := sb.Exec(ctx, "git push origin main"); err != nil {
		return fmt.Errorf("push injected files: %w", err)
	}
	return nil
}
