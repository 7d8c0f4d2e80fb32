package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/models"
)

// CreateRequestLog writes the immutable request-log row for a newly
// ingested request (§3 Request Log).
func (q *Queries) CreateRequestLog(ctx context.Context, r models.RequestLog) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO request_logs (request_id, project_id, user_id, intent, params_snapshot, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO NOTHING`,
		r.RequestID, r.ProjectID, r.UserID, r.Intent, r.ParamsSnapshot, r.Status)
	if err != nil {
		return fmt.Errorf("create request log: %w", err)
	}
	return nil
}

// UpdateRequestLogStatus transitions a request log to a terminal status.
func (q *Queries) UpdateRequestLogStatus(ctx context.Context, requestID, status string) error {
	_, err := q.db.Exec(ctx, `UPDATE request_logs SET status = $2 WHERE request_id = $1`, requestID, status)
	if err != nil {
		return fmt.Errorf("update request log status: %w", err)
	}
	return nil
}

// SetActiveProjectDatabase deactivates any existing active database row for
// the project and inserts the new one, preserving invariant I1/I6 (exactly
// one isActive row per project) within the caller's transaction.
func (q *Queries) SetActiveProjectDatabase(ctx context.Context, d models.ProjectDatabase) error {
	if _, err := q.db.Exec(ctx, `UPDATE project_databases SET is_active = false WHERE project_id = $1 AND is_active`, d.ProjectID); err != nil {
		return fmt.Errorf("deactivate prior project database: %w", err)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO project_databases (database_id, project_id, user_id, db_name, schema_name, environment, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)`,
		d.DatabaseID, d.ProjectID, d.UserID, d.DBName, d.SchemaName, d.Environment)
	if err != nil {
		return fmt.Errorf("insert project database: %w", err)
	}
	return nil
}

// GetActiveProjectDatabase returns the project's active database row, or
// nil if none exists (e.g. the project has no database).
func (q *Queries) GetActiveProjectDatabase(ctx context.Context, projectID string) (*models.ProjectDatabase, error) {
	row := q.db.QueryRow(ctx, `
		SELECT database_id, project_id, user_id, db_name, schema_name, environment, is_active, created_at
		FROM project_databases WHERE project_id = $1 AND is_active LIMIT 1`, projectID)
	var d models.ProjectDatabase
	if err := row.Scan(&d.DatabaseID, &d.ProjectID, &d.UserID, &d.DBName, &d.SchemaName, &d.Environment, &d.IsActive, &d.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active project database: %w", err)
	}
	return &d, nil
}

// CreateGeneratedQuery writes one audit row per DDL execution attempt.
func (q *Queries) CreateGeneratedQuery(ctx context.Context, g models.GeneratedQuery) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO generated_queries (query_id, project_id, query_text, query_type, schema_name, execution_status, error_message, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.QueryID, g.ProjectID, g.QueryText, g.QueryType, g.SchemaName, g.ExecutionStatus, nullIfEmpty(g.ErrorMessage), g.Environment)
	if err != nil {
		return fmt.Errorf("create generated query: %w", err)
	}
	return nil
}

// SetActiveSourceRepository deactivates any prior active repo row for the
// project and inserts the new one (invariant I6).
func (q *Queries) SetActiveSourceRepository(ctx context.Context, r models.SourceRepository) error {
	if _, err := q.db.Exec(ctx, `UPDATE source_repositories SET is_active = false WHERE project_id = $1 AND is_active`, r.ProjectID); err != nil {
		return fmt.Errorf("deactivate prior source repository: %w", err)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO source_repositories (repo_id, project_id, user_id, repo_url, repo_name, branch, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)`,
		r.RepoID, r.ProjectID, r.UserID, r.RepoURL, r.RepoName, r.Branch)
	if err != nil {
		return fmt.Errorf("insert source repository: %w", err)
	}
	return nil
}

// GetActiveSourceRepository returns the project's active source repo, or
// nil if none exists.
func (q *Queries) GetActiveSourceRepository(ctx context.Context, projectID string) (*models.SourceRepository, error) {
	row := q.db.QueryRow(ctx, `
		SELECT repo_id, project_id, user_id, repo_url, repo_name, branch, is_active, created_at
		FROM source_repositories WHERE project_id = $1 AND is_active LIMIT 1`, projectID)
	var r models.SourceRepository
	if err := row.Scan(&r.RepoID, &r.ProjectID, &r.UserID, &r.RepoURL, &r.RepoName, &r.Branch, &r.IsActive, &r.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active source repository: %w", err)
	}
	return &r, nil
}

// CreatePushHistory writes an audit row for one push to the source host.
func (q *Queries) CreatePushHistory(ctx context.Context, p models.PushHistory) error {
	filesJSON, err := json.Marshal(p.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files changed: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO push_history (push_id, project_id, commit_sha, commit_message, files_changed, repo_url, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.PushID, p.ProjectID, p.CommitSHA, p.CommitMessage, filesJSON, p.RepoURL, p.Environment)
	if err != nil {
		return fmt.Errorf("create push history: %w", err)
	}
	return nil
}

// CreateContainerSession records a new sandbox allocation.
func (q *Queries) CreateContainerSession(ctx context.Context, s models.ContainerSession) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO container_sessions (session_id, project_id, container_id, provider, status, environment)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.SessionID, s.ProjectID, s.ContainerID, s.Provider, s.Status, s.Environment)
	if err != nil {
		return fmt.Errorf("create container session: %w", err)
	}
	return nil
}

// CompleteContainerSession marks a sandbox session terminal, enforcing
// invariant I2 (StoppedAt >= StartedAt is guaranteed by using now()).
func (q *Queries) CompleteContainerSession(ctx context.Context, sessionID, status string) error {
	_, err := q.db.Exec(ctx, `UPDATE container_sessions SET status = $2, stopped_at = now() WHERE session_id = $1`, sessionID, status)
	if err != nil {
		return fmt.Errorf("complete container session: %w", err)
	}
	return nil
}

// SetCanonicalDeployment demotes any prior canonical deployment row for the
// project and inserts the new one (§3: "exactly one canonical record per
// project; others are historical").
func (q *Queries) SetCanonicalDeployment(ctx context.Context, d models.DeploymentRecord) error {
	if _, err := q.db.Exec(ctx, `UPDATE deployment_records SET is_canonical = false WHERE project_id = $1 AND is_canonical`, d.ProjectID); err != nil {
		return fmt.Errorf("demote prior deployment record: %w", err)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO deployment_records (deployment_id, project_id, platform, app_name, url, status, is_canonical)
		VALUES ($1, $2, $3, $4, $5, $6, true)`,
		d.DeploymentID, d.ProjectID, d.Platform, d.AppName, d.URL, d.Status)
	if err != nil {
		return fmt.Errorf("insert deployment record: %w", err)
	}
	return nil
}

// GetCanonicalDeployment returns the project's canonical deployment row.
func (q *Queries) GetCanonicalDeployment(ctx context.Context, projectID string) (*models.DeploymentRecord, error) {
	row := q.db.QueryRow(ctx, `
		SELECT deployment_id, project_id, platform, app_name, url, status, deployed_at, last_updated
		FROM deployment_records WHERE project_id = $1 AND is_canonical LIMIT 1`, projectID)
	var d models.DeploymentRecord
	if err := row.Scan(&d.DeploymentID, &d.ProjectID, &d.Platform, &d.AppName, &d.URL, &d.Status, &d.DeployedAt, &d.LastUpdated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get canonical deployment: %w", err)
	}
	return &d, nil
}

// UpdateDeploymentStatus transitions the canonical deployment's status
// (used by the dormant synchronous deploy path, §4.10).
func (q *Queries) UpdateDeploymentStatus(ctx context.Context, deploymentID, status string, deployedAt *time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE deployment_records SET status = $2, deployed_at = $3, last_updated = now() WHERE deployment_id = $1`,
		deploymentID, status, deployedAt)
	if err != nil {
		return fmt.Errorf("update deployment status: %w", err)
	}
	return nil
}

// CreateActivityEntry appends one row to the activity ledger. Callers must
// swallow the error themselves per §4.3/I4 — this method only reports it.
func (q *Queries) CreateActivityEntry(ctx context.Context, a models.ActivityEntry) error {
	refJSON, err := json.Marshal(a.ReferenceIDs)
	if err != nil {
		return fmt.Errorf("marshal reference ids: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO activity_entries (action_id, project_id, user_id, request_id, action_type, action_details, status, environment, reference_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ActionID, a.ProjectID, a.UserID, nullIfEmpty(a.RequestID), a.ActionType, a.ActionDetails, a.Status, a.Environment, refJSON)
	if err != nil {
		return fmt.Errorf("create activity entry: %w", err)
	}
	return nil
}

// CreateMessageCostEntry appends one row to the cost ledger.
func (q *Queries) CreateMessageCostEntry(ctx context.Context, c models.MessageCostEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO message_cost_entries (cost_id, project_id, job_id, user_id, prompt_content, message_type, model, input_tokens, output_tokens, cost_usd, time_to_completion_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.CostID, c.ProjectID, c.JobID, c.UserID, c.PromptContent, c.MessageType, c.Model, c.InputTokens, c.OutputTokens, c.CostUSD,
		c.TimeToCompletion.Milliseconds(), c.StartedAt)
	if err != nil {
		return fmt.Errorf("create message cost entry: %w", err)
	}
	return nil
}

// CreateAPIBlueprint inserts a new blueprint row. The latest row per
// project (by LastUpdated) is authoritative — both the initial Phase 7
// write and later modification updates (§M9) simply insert a new row.
func (q *Queries) CreateAPIBlueprint(ctx context.Context, b models.APIBlueprint) error {
	contentJSON, err := json.Marshal(b.BlueprintContent)
	if err != nil {
		return fmt.Errorf("marshal blueprint content: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO api_blueprints (blueprint_id, project_id, request_id, blueprint_content, last_updated)
		VALUES ($1, $2, $3, $4, now())`,
		b.BlueprintID, b.ProjectID, b.RequestID, contentJSON)
	if err != nil {
		return fmt.Errorf("create api blueprint: %w", err)
	}
	return nil
}

// GetLatestAPIBlueprint returns the most recently updated blueprint row for
// a project, or nil if none exists.
func (q *Queries) GetLatestAPIBlueprint(ctx context.Context, projectID string) (*models.APIBlueprint, error) {
	row := q.db.QueryRow(ctx, `
		SELECT blueprint_id, project_id, request_id, blueprint_content, last_updated, created_at
		FROM api_blueprints WHERE project_id = $1 ORDER BY last_updated DESC LIMIT 1`, projectID)
	var b models.APIBlueprint
	var contentJSON []byte
	if err := row.Scan(&b.BlueprintID, &b.ProjectID, &b.RequestID, &contentJSON, &b.LastUpdated, &b.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest api blueprint: %w", err)
	}
	if err := json.Unmarshal(contentJSON, &b.BlueprintContent); err != nil {
		return nil, fmt.Errorf("unmarshal blueprint content: %w", err)
	}
	return &b, nil
}

// CreateCredentialPlaceholder inserts a credential row awaiting a user
// value.
func (q *Queries) CreateCredentialPlaceholder(ctx context.Context, c models.CredentialPlaceholder) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO credential_placeholders (credential_id, project_id, provider, variable_name, value, is_active)
		VALUES ($1, $2, $3, $4, $5, true)`,
		c.CredentialID, c.ProjectID, c.Provider, c.VariableName, c.Value)
	if err != nil {
		return fmt.Errorf("create credential placeholder: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
