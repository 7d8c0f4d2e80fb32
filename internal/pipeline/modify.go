package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/agentcmd"
	"github.com/turbobackend/worker/internal/agentloop"
	"github.com/turbobackend/worker/internal/agentloop/prompt"
	"github.com/turbobackend/worker/internal/deploy"
	"github.com/turbobackend/worker/internal/events"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/sourcehost"
)

// ModifyPipeline runs the modification state machine M0-M12 (§4.11.2) for
// one job. Like CreatePipeline, it holds a single outer transaction for the
// job's whole lifetime, committed only on success.
func (p *Pipeline) ModifyPipeline(ctx context.Context, job models.Job) error {
	streamID := job.Payload.StreamID
	projectID := job.Payload.ProjectID
	userID := job.Payload.UserID
	requestID := job.Payload.RequestID
	request := modificationRequestText(job.Payload.RequestParams)
	environment := requestEnvironment(job.Payload.RequestParams)
	redeploy := requestRedeployOnModify(job.Payload.RequestParams)

	// M0: open outer transaction.
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("open outer transaction: %w", err)
	}
	deps := p.newJobDeps(tx)

	var sb *sandbox.Sandbox
	defer func() {
		if sb != nil {
			sb.Teardown(ctx)
		}
	}()

	result, err := p.runModify(ctx, deps, &sb, job, streamID, projectID, userID, requestID, request, environment, redeploy)
	if err != nil {
		p.publisher.PublishError(ctx, streamID, err.Error())
		return rollbackAndWrap(ctx, tx, err)
	}

	// M12: commit outer transaction; publish terminal success.
	if err := tx.Commit(ctx); err != nil {
		wrapped := fmt.Errorf("commit outer transaction: %w", err)
		p.publisher.PublishError(ctx, streamID, wrapped.Error())
		return wrapped
	}

	if result.blueprintContent != nil {
		p.publisher.PublishTyped(ctx, streamID, contentMessage(events.TypeAPIBlueprint, result.blueprintContent))
	}
	if redeploy {
		deps.deploy.PublishTriggered(ctx, streamID, result.deploymentURL)
	}
	p.publisher.PublishSuccess(ctx, streamID, result.summary)

	return nil
}

type modifyResult struct {
	summary          string
	deploymentURL    string
	blueprintContent map[string]any
}

func (p *Pipeline) runModify(
	ctx context.Context,
	deps *jobDeps,
	sbOut **sandbox.Sandbox,
	job models.Job,
	streamID, projectID, userID, requestID, request, environment string,
	redeploy bool,
) (modifyResult, error) {
	p.publisher.PublishProgress(ctx, streamID, "Starting project modification", 0)

	// M1: provision a fresh sandbox.
	sb, err := deps.lifecycle.Provision(ctx, projectID)
	if err != nil {
		return modifyResult{}, fmt.Errorf("provision sandbox: %w", err)
	}
	*sbOut = sb
	p.publisher.PublishProgress(ctx, streamID, "Sandbox provisioned", 10)

	// M2 + M3: look up the active repo, fetch + checkout the target branch,
	// configure git identity. BeginModification fails with ErrNoActiveRepo
	// if M2 finds nothing.
	mainBranch, err := deps.sourcehost.BeginModification(ctx, sb, projectID)
	if err != nil {
		return modifyResult{}, fmt.Errorf("begin modification: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "Checked out target branch", 20)

	// M4: create a feature branch.
	featureBranch, err := sourcehost.CreateFeatureBranch(ctx, sb)
	if err != nil {
		return modifyResult{}, fmt.Errorf("create feature branch: %w", err)
	}

	// M5: load project context.
	projCtx, err := deps.contextLoad.Load(ctx, deps.queries, sb, projectID)
	if err != nil {
		return modifyResult{}, fmt.Errorf("load project context: %w", err)
	}
	preExistingRoutes := make(map[string]bool, len(projCtx.Files))
	for _, f := range projCtx.Files {
		preExistingRoutes[f] = true
	}
	p.publisher.PublishProgress(ctx, streamID, "Loaded project context", 30)

	// M6: run the agentic loop with existingEndpoints populated. No database
	// section is assembled here: the loaded context's schema is always nil
	// (§4.12), since the loop only needs to know what routes already exist.
	systemPrompt := prompt.Assemble([]prompt.Section{
		prompt.Base(),
		prompt.ExistingEndpoints(projCtx.Endpoints),
	})

	executor := agentcmd.NewExecutor(sb)
	loop := newLoop(p.llm, executor, deps.cost)
	loopResult, err := loop.Run(ctx, agentloop.Request{
		ProjectID:     projectID,
		JobID:         job.ID,
		UserID:        userID,
		SystemPrompt:  systemPrompt,
		InitialPrompt: request,
		Model:         p.cfg.Model,
		MaxIterations: p.cfg.MaxIterations,
	})
	if err != nil {
		return modifyResult{}, fmt.Errorf("run agentic loop: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "Modification generated", 60)

	// M7: apply any CREATE TABLE db_query commands to the existing database.
	var tablesAdded int
	if projCtx.DatabaseInfo != nil {
		var createTableStatements []string
		for _, q := range loopResult.DBQueries {
			if isCreateTable(q.QueryType) {
				createTableStatements = append(createTableStatements, q.Query)
			}
		}
		tablesAdded = len(createTableStatements)
		if len(createTableStatements) > 0 {
			if err := deps.provisioner.ApplyQueries(ctx, projCtx.DatabaseInfo.DBName, createTableStatements); err != nil {
				return modifyResult{}, fmt.Errorf("apply modification db queries: %w", err)
			}
			deps.ledger.Record(ctx, models.ActivityEntry{
				ActionID:     uuid.NewString(),
				ProjectID:    projectID,
				UserID:       userID,
				RequestID:    requestID,
				ActionType:   models.ActionTablesAdded,
				Environment:  environment,
				ReferenceIDs: map[string]string{"table_count": fmt.Sprintf("%d", len(createTableStatements))},
				CreatedAt:    time.Now(),
			})
		}
	}

	// M8: commit, push feature branch, checkout main, merge, push main.
	commitMessage := loopResult.Summary
	if commitMessage == "" {
		commitMessage = "Project modification"
	}
	if err := deps.sourcehost.FinishModification(ctx, sb, featureBranch, mainBranch, commitMessage); err != nil {
		return modifyResult{}, fmt.Errorf("finish modification: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "Changes merged", 75)

	// M9: if the blueprint file was modified, read it back, insert it as a
	// new blueprint row (the latest row is authoritative), and prepare the
	// typed apiBlueprint message.
	var blueprintContent map[string]any
	if _, modified := loopResult.FilesModified["api-blueprint.json"]; modified {
		content, err := sb.Read(ctx, "api-blueprint.json")
		if err == nil {
			var parsed map[string]any
			if parseErr := json.Unmarshal([]byte(content), &parsed); parseErr == nil {
				blueprintContent = stripBlueprintMetadata(parsed)
				blueprint := models.APIBlueprint{
					BlueprintID:      uuid.NewString(),
					ProjectID:        projectID,
					RequestID:        requestID,
					BlueprintContent: blueprintContent,
					LastUpdated:      time.Now(),
				}
				if err := deps.queries.CreateAPIBlueprint(ctx, blueprint); err != nil {
					return modifyResult{}, fmt.Errorf("update api blueprint: %w", err)
				}
			}
		}
	}

	// M10: emit activity rows — github_push plus the classification rule.
	deps.ledger.Record(ctx, models.ActivityEntry{
		ActionID:    uuid.NewString(),
		ProjectID:   projectID,
		UserID:      userID,
		RequestID:   requestID,
		ActionType:  models.ActionGithubPush,
		Environment: environment,
		CreatedAt:   time.Now(),
	})
	classification := classifyModification(loopResult.FilesModified, preExistingRoutes)
	deps.ledger.Record(ctx, models.ActivityEntry{
		ActionID:    uuid.NewString(),
		ProjectID:   projectID,
		UserID:      userID,
		RequestID:   requestID,
		ActionType:  classification,
		Environment: environment,
		CreatedAt:   time.Now(),
	})
	p.publisher.PublishProgress(ctx, streamID, "Recorded activity", 85)

	// M11: optionally re-trigger deployment.
	appName := deploy.AppNameFor(projectID)
	deploymentURL := deploymentURLFor(appName)
	if redeploy {
		if err := deps.deploy.WritePendingRecord(ctx, projectID, appName, deploymentURL); err != nil {
			return modifyResult{}, fmt.Errorf("write pending deployment record: %w", err)
		}
	}
	p.publisher.PublishProgress(ctx, streamID, "Done", 100)

	dbName := ""
	tableCount := 0
	if projCtx.DatabaseInfo != nil {
		dbName = projCtx.DatabaseInfo.DBName
		tableCount = tablesAdded
	}
	summaryDeploymentURL := ""
	if redeploy {
		summaryDeploymentURL = deploymentURL
	}
	summary := buildSuccessSummary(successSummary{
		Verb:          "Project modified successfully",
		FilesModified: len(loopResult.FilesModified),
		TotalCostUSD:  deps.cost.Total(),
		DeploymentURL: summaryDeploymentURL,
		DBName:        dbName,
		TableCount:    tableCount,
		AgentSummary:  loopResult.Summary,
	})

	return modifyResult{
		summary:          summary,
		deploymentURL:    deploymentURL,
		blueprintContent: blueprintContent,
	}, nil
}

// isCreateTable matches the db_query commands the modification loop is
// allowed to apply automatically (§M7).
func isCreateTable(queryType string) bool {
	return strings.HasPrefix(strings.ToUpper(queryType), "CREATE TABLE")
}

// classifyModification applies §4.11.3's static rule over the modified
// file set.
func classifyModification(filesModified map[string]string, preExisting map[string]bool) string {
	hasNewRoute := false
	hasChangedRoute := false
	for path, class := range filesModified {
		if class != agentloop.FileRoute {
			continue
		}
		if preExisting[path] {
			hasChangedRoute = true
		} else {
			hasNewRoute = true
		}
	}
	switch {
	case hasNewRoute:
		return models.ActionEndpointsAdded
	case hasChangedRoute:
		return models.ActionEndpointsModified
	default:
		return models.ActionBusinessLogicMod
	}
}
