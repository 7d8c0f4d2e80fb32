// Package deploy implements the Deployment Integration (C10): idempotent
// app creation, secret installation, and the CI-triggered deployment
// record. Grounded on the teacher's idempotent-external-call idiom
// (pkg/services/event_service.go's "already exists" tolerance) generalized
// from ent uniqueness-constraint handling to the deployment platform's own
// "already exists" API error.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/deployapi"
	"github.com/turbobackend/worker/internal/events"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/store"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// AppNameFor derives the deterministic app slug for a project (§4.10).
func AppNameFor(projectID string) string {
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(projectID), "-")
	return "turbobackend-" + slug
}

// Config carries the primary region used for new apps.
type Config struct {
	PrimaryRegion string
}

func DefaultConfig() Config {
	return Config{PrimaryRegion: "iad"}
}

// Integration ties the deployment platform client to control-database
// writes and pub/sub notifications.
type Integration struct {
	client    *deployapi.Client
	queries   *store.Queries
	publisher *events.Publisher
	cfg       Config
}

func NewIntegration(client *deployapi.Client, queries *store.Queries, publisher *events.Publisher, cfg Config) *Integration {
	return &Integration{client: client, queries: queries, publisher: publisher, cfg: cfg}
}

// EnsureApp creates the app if it does not already exist (§4.10 "App
// creation"): idempotent, by listing apps first.
func (in *Integration) EnsureApp(ctx context.Context, projectID string) (string, error) {
	appName := AppNameFor(projectID)

	apps, err := in.client.ListApps(ctx)
	if err != nil {
		return "", fmt.Errorf("list apps: %w", err)
	}
	for _, app := range apps {
		if app.Name == appName {
			return appName, nil
		}
	}

	if err := in.client.CreateApp(ctx, appName); err != nil {
		return "", fmt.Errorf("create app: %w", err)
	}
	return appName, nil
}

// InstallDatabaseSecrets sets DB_HOST/PORT/NAME/USER/PASSWORD on the app
// (§4.10 "Secret installation").
func (in *Integration) InstallDatabaseSecrets(ctx context.Context, appName string, host string, port int, dbName, user, password string) error {
	secrets := map[string]string{
		"DB_HOST":     host,
		"DB_PORT":     strconv.Itoa(port),
		"DB_NAME":     dbName,
		"DB_USER":     user,
		"DB_PASSWORD": password,
	}
	if err := in.client.SetSecrets(ctx, appName, secrets); err != nil {
		return fmt.Errorf("install database secrets: %w", err)
	}
	return nil
}

// WritePendingRecord writes the pending Deployment-Record row (§4.11.1 P5
// step 5). Publishing the deployment_triggered message is a separate step
// (PublishTriggered), deferred by the creation pipeline until after the
// outer transaction commits.
func (in *Integration) WritePendingRecord(ctx context.Context, projectID, appName, deploymentURL string) error {
	record := models.DeploymentRecord{
		DeploymentID: uuid.NewString(),
		ProjectID:    projectID,
		Platform:     "fly.io",
		AppName:      appName,
		URL:          deploymentURL,
		Status:       models.DeploymentPending,
		LastUpdated:  time.Now(),
	}
	if err := in.queries.SetCanonicalDeployment(ctx, record); err != nil {
		return fmt.Errorf("record deployment: %w", err)
	}
	return nil
}

// PublishTriggered emits the typed deployment_triggered stream message.
func (in *Integration) PublishTriggered(ctx context.Context, streamID, deploymentURL string) {
	in.publisher.PublishTyped(ctx, streamID, events.TypedMessage{
		Type:    events.TypeDeploymentTriggered,
		URL:     deploymentURL,
		Status:  models.DeploymentPending,
		Message: "Deployment queued via CI",
	})
}

// TriggerDeployment is the default path's combined convenience form:
// deployment happens indirectly via the CI workflow pushed to main. It
// writes the pending record and publishes in one call, without the
// "publish only after outer commit" ordering; neither pipeline calls it
// (both use WritePendingRecord and a post-commit PublishTriggered).
func (in *Integration) TriggerDeployment(ctx context.Context, streamID, projectID, appName, deploymentURL string) error {
	if err := in.WritePendingRecord(ctx, projectID, appName, deploymentURL); err != nil {
		return err
	}
	in.PublishTriggered(ctx, streamID, deploymentURL)
	return nil
}

// RunSynchronous is the alternative synchronous deployment path, retained
// per spec.md's "commented out in the source" note but not wired into the
// default pipeline call graph (SPEC_FULL.md Open Question #5 — CI-triggered
// is the production default). Operators who want synchronous deployment
// call this directly instead of TriggerDeployment.
func (in *Integration) RunSynchronous(ctx context.Context, sb *sandbox.Sandbox, streamID, projectID, appName, apiToken, deploymentURL string) error {
	resp, err := sb.Exec(ctx, fmt.Sprintf("FLY_API_TOKEN=%s flyctl deploy --remote-only", apiToken))
	if err != nil {
		in.publishComplete(ctx, streamID, deploymentURL, models.DeploymentFailed, err.Error())
		return fmt.Errorf("run synchronous deployment: %w", err)
	}

	if !strings.Contains(strings.ToLower(resp.Stdout), "success") && resp.ExitCode != 0 {
		in.publishComplete(ctx, streamID, deploymentURL, models.DeploymentFailed, resp.Stderr)
		return fmt.Errorf("synchronous deployment failed: %s", resp.Stderr)
	}

	if err := in.healthCheck(ctx, deploymentURL); err != nil {
		in.publishComplete(ctx, streamID, deploymentURL, models.DeploymentFailed, err.Error())
		return fmt.Errorf("post-deploy health check: %w", err)
	}

	now := time.Now()
	record := models.DeploymentRecord{
		DeploymentID: uuid.NewString(),
		ProjectID:    projectID,
		Platform:     "fly.io",
		AppName:      appName,
		URL:          deploymentURL,
		Status:       models.DeploymentDeployed,
		DeployedAt:   &now,
		LastUpdated:  now,
	}
	if err := in.queries.SetCanonicalDeployment(ctx, record); err != nil {
		return fmt.Errorf("record deployment: %w", err)
	}

	in.publishComplete(ctx, streamID, deploymentURL, models.DeploymentDeployed, "")
	return nil
}

func (in *Integration) publishComplete(ctx context.Context, streamID, url, status, errMsg string) {
	in.publisher.PublishTyped(ctx, streamID, events.TypedMessage{
		Type:   events.TypeDeploymentComplete,
		URL:    url,
		Status: status,
		Error:  errMsg,
	})
}

// healthCheck bounds its latency to 10s and expects HTTP 200 from
// {url}/api/health (§4.10, §5).
func (in *Integration) healthCheck(ctx context.Context, deploymentURL string) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, deploymentURL+"/api/health", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
