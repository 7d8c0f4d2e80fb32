package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/agentloop"
	"github.com/turbobackend/worker/internal/agentloop/prompt"
	"github.com/turbobackend/worker/internal/dbprovision"
	"github.com/turbobackend/worker/internal/deploy"
	"github.com/turbobackend/worker/internal/events"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/sourcehost"
)

// CreatePipeline runs the full creation state machine P0-P8 (§4.11.1) for
// one job. It opens the job's single outer transaction before any external
// side effect, and commits it only once every control-database write has
// succeeded; any error before that point rolls the transaction back, is
// published as the terminal error message, and is returned to the caller.
func (p *Pipeline) CreatePipeline(ctx context.Context, job models.Job) error {
	streamID := job.Payload.StreamID
	projectID := job.Payload.ProjectID
	userID := job.Payload.UserID
	requestID := job.Payload.RequestID
	request := creationRequestText(job.Payload.RequestParams)
	environment := requestEnvironment(job.Payload.RequestParams)

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

	result, err := p.runCreate(ctx, deps, tx, &sb, job, streamID, projectID, userID, requestID, request, environment)
	if err != nil {
		p.publisher.PublishError(ctx, streamID, err.Error())
		return rollbackAndWrap(ctx, tx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		wrapped := fmt.Errorf("commit outer transaction: %w", err)
		p.publisher.PublishError(ctx, streamID, wrapped.Error())
		return wrapped
	}

	// Only now, after the commit, may the blueprint and deployment-triggered
	// typed messages and the terminal success message be published
	// (§4.11.1: "Commit outer transaction. Only now emit the terminal
	// success message").
	if result.blueprintContent != nil {
		p.publisher.PublishTyped(ctx, streamID, contentMessage(events.TypeAPIBlueprint, result.blueprintContent))
	}
	deps.deploy.PublishTriggered(ctx, streamID, result.deploymentURL)
	p.publisher.PublishSuccess(ctx, streamID, result.summary)

	return nil
}

// createResult carries what the post-commit publish step needs, since
// nothing may be published before the commit succeeds.
type createResult struct {
	summary          string
	deploymentURL    string
	blueprintContent map[string]any
}

func (p *Pipeline) runCreate(
	ctx context.Context,
	deps *jobDeps,
	outerTx pgx.Tx,
	sbOut **sandbox.Sandbox,
	job models.Job,
	streamID, projectID, userID, requestID, request, environment string,
) (createResult, error) {
	// P0 (5%): detect auth/payment/database need, progress after each.
	p.publisher.PublishProgress(ctx, streamID, "Starting project creation", 0)

	needsDB := deps.detector.NeedsDatabase(ctx, projectID, job.ID, userID, request)
	p.publisher.PublishProgress(ctx, streamID, "Checked database requirement", 2)
	needsAuth := deps.detector.NeedsAuth(ctx, projectID, job.ID, userID, request)
	p.publisher.PublishProgress(ctx, streamID, "Checked authentication requirement", 3)
	needsPayment := deps.detector.NeedsPayment(ctx, projectID, job.ID, userID, request)
	p.publisher.PublishProgress(ctx, streamID, "Checked payment requirement", 5)

	// P1 (15%): schema design + provisioning, if a database is needed.
	var dbInfo *dbprovision.DatabaseInfo
	if needsDB.Needed {
		p.publisher.PublishProgress(ctx, streamID, "Designing database schema", 8)
		schema, err := deps.designer.Design(ctx, projectID, job.ID, userID, request)
		if err != nil {
			return createResult{}, fmt.Errorf("design schema: %w", err)
		}
		info, err := deps.provisioner.Provision(ctx, deps.queries, outerTx, projectID, userID, environment, schema)
		if err != nil {
			return createResult{}, fmt.Errorf("provision database: %w", err)
		}
		dbInfo = info
		p.publisher.PublishProgress(ctx, streamID, "Database provisioned", 15)
	}

	// P2 (25%): provision a fresh sandbox, initialize the project.
	p.publisher.PublishProgress(ctx, streamID, "Provisioning build sandbox", 18)
	sb, err := deps.lifecycle.Provision(ctx, projectID)
	if err != nil {
		return createResult{}, fmt.Errorf("provision sandbox: %w", err)
	}
	*sbOut = sb

	placeholders := sandbox.Placeholders(needsAuth.Needed, needsPayment.Needed)
	initEnv := sandbox.InitEnv{
		NeedsAuth:     needsAuth.Needed,
		NeedsPayment:  needsPayment.Needed,
		WorkerAPIKeys: p.cfg.WorkerAPIKeys,
		Placeholders:  placeholders,
		DatabaseInfo:  dbInfo,
	}
	if err := sb.InitNew(ctx, initEnv); err != nil {
		return createResult{}, fmt.Errorf("initialize project: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "Project scaffold initialized", 25)

	deps.ledger.Record(ctx, models.ActivityEntry{
		ActionID:     uuid.NewString(),
		ProjectID:    projectID,
		UserID:       userID,
		RequestID:    requestID,
		ActionType:   models.ActionProjectCreated,
		Environment:  environment,
		ReferenceIDs: map[string]string{"sandbox_id": sb.SandboxID},
		CreatedAt:    time.Now(),
	})

	// P3 (25%): load integration docs + examples and assemble the system
	// prompt.
	sections := []prompt.Section{prompt.Base()}
	if dbInfo != nil {
		sections = append(sections, prompt.Database(dbInfo.Schema))
	}
	if needsAuth.Needed {
		sections = append(sections, prompt.Auth())
	}
	if needsPayment.Needed {
		sections = append(sections, prompt.Payment())
	}
	systemPrompt := prompt.Assemble(sections)

	// P4 (70%): run the agentic loop.
	p.publisher.PublishProgress(ctx, streamID, "Generating API implementation", 40)
	executor := newExecutor(sb)
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
		return createResult{}, fmt.Errorf("run agentic loop: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "API implementation generated", 70)

	appName := deploy.AppNameFor(projectID)
	deploymentURL := deploymentURLFor(appName)

	// P5: injections + deploy prep.
	if err := sourcehost.InjectCORS(ctx, sb); err != nil {
		return createResult{}, fmt.Errorf("inject cors middleware: %w", err)
	}
	if err := sourcehost.InjectDeployFiles(ctx, sb, sourcehost.DeployConfig{AppName: appName, Region: p.cfg.DeployRegion}); err != nil {
		return createResult{}, fmt.Errorf("inject deploy files: %w", err)
	}
	if _, err := deps.deploy.EnsureApp(ctx, projectID); err != nil {
		return createResult{}, fmt.Errorf("ensure deployment app: %w", err)
	}
	if dbInfo != nil {
		if err := deps.deploy.InstallDatabaseSecrets(ctx, appName, dbInfo.Host, dbInfo.Port, dbInfo.DBName, dbInfo.User, dbInfo.Password); err != nil {
			return createResult{}, fmt.Errorf("install database secrets: %w", err)
		}
	}
	if err := deps.deploy.WritePendingRecord(ctx, projectID, appName, deploymentURL); err != nil {
		return createResult{}, fmt.Errorf("write pending deployment record: %w", err)
	}
	routeCount := countRoutes(loopResult.FilesModified)
	if routeCount > 0 {
		deps.ledger.Record(ctx, models.ActivityEntry{
			ActionID:     uuid.NewString(),
			ProjectID:    projectID,
			UserID:       userID,
			RequestID:    requestID,
			ActionType:   models.ActionEndpointsAdded,
			Environment:  environment,
			ReferenceIDs: map[string]string{"endpoint_count": fmt.Sprintf("%d", routeCount)},
			CreatedAt:    time.Now(),
		})
	}
	p.publisher.PublishProgress(ctx, streamID, "Deployment prepared", 80)

	// P6 (push): stage/commit/push, install the platform token as a repo
	// secret, mirror the tree to the object store.
	if err := sourcehost.CommitInjections(ctx, sb); err != nil {
		return createResult{}, fmt.Errorf("commit injected files: %w", err)
	}
	if err := deps.sourcehost.InitialPush(ctx, sb, projectID, userID); err != nil {
		return createResult{}, fmt.Errorf("initial push: %w", err)
	}
	repoName := sourcehost.RepoNameFor(projectID)
	if err := p.github.InstallSecret(ctx, repoName, "FLY_API_TOKEN", p.cfg.DeployAPIToken); err != nil {
		return createResult{}, fmt.Errorf("install deployment token secret: %w", err)
	}
	if err := sb.SyncToObjectStore(ctx, p.cfg.ObjectStoreBucket); err != nil {
		return createResult{}, fmt.Errorf("sync to object store: %w", err)
	}
	p.publisher.PublishProgress(ctx, streamID, "Pushed to source host", 90)

	// P7 (blueprint): strip disallowed fields, write to sandbox, commit,
	// store in the control database.
	var blueprintContent map[string]any
	if loopResult.APIBlueprint != nil {
		blueprintContent = stripBlueprintMetadata(loopResult.APIBlueprint)
		if err := writeAndCommitBlueprint(ctx, sb, blueprintContent); err != nil {
			return createResult{}, fmt.Errorf("write blueprint: %w", err)
		}
		blueprint := models.APIBlueprint{
			BlueprintID:      uuid.NewString(),
			ProjectID:        projectID,
			RequestID:        requestID,
			BlueprintContent: blueprintContent,
			LastUpdated:      time.Now(),
		}
		if err := deps.queries.CreateAPIBlueprint(ctx, blueprint); err != nil {
			return createResult{}, fmt.Errorf("store blueprint: %w", err)
		}
	}
	p.publisher.PublishProgress(ctx, streamID, "Blueprint recorded", 95)

	// P8: credential placeholders.
	if needsAuth.Needed || needsPayment.Needed {
		for _, ph := range placeholders {
			if err := deps.queries.CreateCredentialPlaceholder(ctx, models.CredentialPlaceholder{
				CredentialID: uuid.NewString(),
				ProjectID:    projectID,
				Provider:     ph.Provider,
				VariableName: ph.VariableName,
				IsActive:     true,
				CreatedAt:    time.Now(),
			}); err != nil {
				return createResult{}, fmt.Errorf("record credential placeholder: %w", err)
			}
		}
		deps.ledger.Record(ctx, models.ActivityEntry{
			ActionID:    uuid.NewString(),
			ProjectID:   projectID,
			UserID:      userID,
			RequestID:   requestID,
			ActionType:  models.ActionEnvVarsRequired,
			Environment: environment,
			CreatedAt:   time.Now(),
		})
	}
	p.publisher.PublishProgress(ctx, streamID, "Ready", 100)

	tableCount := 0
	dbName := ""
	if dbInfo != nil {
		dbName = dbInfo.DBName
		tableCount = len(dbInfo.Schema.Tables)
	}
	summary := buildSuccessSummary(successSummary{
		Verb:          "Project created successfully",
		FilesModified: len(loopResult.FilesModified),
		TotalCostUSD:  deps.cost.Total(),
		DeploymentURL: deploymentURL,
		DBName:        dbName,
		TableCount:    tableCount,
		NeedsAuth:     needsAuth.Needed,
		NeedsPayment:  needsPayment.Needed,
		AgentSummary:  loopResult.Summary,
	})

	return createResult{
		summary:          summary,
		deploymentURL:    deploymentURL,
		blueprintContent: blueprintContent,
	}, nil
}

func countRoutes(filesModified map[string]string) int {
	n := 0
	for _, class := range filesModified {
		if class == agentloop.FileRoute {
			n++
		}
	}
	return n
}
