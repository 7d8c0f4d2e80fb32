// Package pipeline implements the Pipeline Orchestrator (C11): the two
// sibling state machines — project creation and project modification —
// composed over every other component (C2-C10). Grounded on the teacher's
// own top-level orchestration shape (pkg/agent/controller/controller.go
// drives a single alert-investigation run end to end through the same
// components this package drives a project-generation run through), with
// the outer-transaction discipline described in SPEC_FULL.md §4.11.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/agentcmd"
	"github.com/turbobackend/worker/internal/agentloop"
	"github.com/turbobackend/worker/internal/dbprovision"
	"github.com/turbobackend/worker/internal/deploy"
	"github.com/turbobackend/worker/internal/deployapi"
	"github.com/turbobackend/worker/internal/detect"
	"github.com/turbobackend/worker/internal/events"
	"github.com/turbobackend/worker/internal/llmapi"
	"github.com/turbobackend/worker/internal/projectcontext"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/sandboxapi"
	"github.com/turbobackend/worker/internal/sourcehost"
	"github.com/turbobackend/worker/internal/store"
)

// Config carries the orchestrator's process-wide settings — everything
// that does not vary per job.
type Config struct {
	Model             string
	MaxIterations     int
	ObjectStoreBucket string
	DeployRegion      string
	DeployAPIToken    string
	WorkerAPIKeys     map[string]string
}

// blueprintDisallowedFields lists the metadata keys stripped from an
// agent-produced apiBlueprint before it is written or stored (§4.11.1 P7).
var blueprintDisallowedFields = []string{"projectId", "projectName", "version", "database"}

func stripBlueprintMetadata(blueprint map[string]any) map[string]any {
	out := make(map[string]any, len(blueprint))
	for k, v := range blueprint {
		out[k] = v
	}
	for _, field := range blueprintDisallowedFields {
		delete(out, field)
	}
	return out
}

// Pipeline holds every stable, process-wide dependency the two state
// machines are composed over. Per-job dependencies (the outer transaction,
// the job's sandbox, its Queries/Ledger/CostAccumulator) are constructed
// fresh by newJobDeps for each run, since they must not outlive one job.
type Pipeline struct {
	store         *store.Store
	publisher     *events.Publisher
	llm           *llmapi.Client
	sandboxClient *sandboxapi.Client
	sandboxCfg    sandbox.Config
	cluster       store.ClusterConfig
	github        *sourcehost.Client
	deployClient  *deployapi.Client
	deployCfg     deploy.Config
	prices        activity.PriceTable
	cfg           Config
}

func New(
	st *store.Store,
	publisher *events.Publisher,
	llm *llmapi.Client,
	sandboxClient *sandboxapi.Client,
	sandboxCfg sandbox.Config,
	cluster store.ClusterConfig,
	github *sourcehost.Client,
	deployClient *deployapi.Client,
	deployCfg deploy.Config,
	prices activity.PriceTable,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		store:         st,
		publisher:     publisher,
		llm:           llm,
		sandboxClient: sandboxClient,
		sandboxCfg:    sandboxCfg,
		cluster:       cluster,
		github:        github,
		deployClient:  deployClient,
		deployCfg:     deployCfg,
		prices:        prices,
		cfg:           cfg,
	}
}

// jobDeps bundles every dependency scoped to one job's outer transaction.
// None of these may be reused across jobs: the Queries wraps the job's own
// pgx.Tx, and the Ledger/CostAccumulator built from it must write through
// that same transaction so a rollback undoes every control-DB write made
// during the job (§5, §8 I2).
type jobDeps struct {
	queries     *store.Queries
	ledger      *activity.Ledger
	cost        *activity.CostAccumulator
	detector    *detect.Detector
	designer    *dbprovision.Designer
	provisioner *dbprovision.Provisioner
	lifecycle   *sandbox.Lifecycle
	sourcehost  *sourcehost.Integration
	deploy      *deploy.Integration
	contextLoad *projectcontext.Loader
}

func (p *Pipeline) newJobDeps(tx pgx.Tx) *jobDeps {
	queries := store.New(tx)
	ledger := activity.NewLedger(queries, tx)
	cost := activity.NewCostAccumulator(queries, tx, p.prices)

	return &jobDeps{
		queries:     queries,
		ledger:      ledger,
		cost:        cost,
		detector:    detect.NewDetector(p.llm, cost),
		designer:    dbprovision.NewDesigner(p.llm, cost),
		provisioner: dbprovision.NewProvisioner(p.cluster, ledger),
		lifecycle:   sandbox.NewLifecycle(p.sandboxClient, queries, p.sandboxCfg),
		sourcehost:  sourcehost.NewIntegration(p.github, queries, ledger),
		deploy:      deploy.NewIntegration(p.deployClient, queries, p.publisher, p.deployCfg),
		contextLoad: projectcontext.NewLoader(p.cluster),
	}
}

// stringField pulls a single string-typed key out of a job's loosely-typed
// RequestParams, returning "" if absent or of the wrong type.
func stringField(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// creationRequestText pulls the free-text build request out of a creation
// job's RequestParams (§6 S1: keyed "userPrompt"), falling back to the
// generic "requestText" key for callers that don't follow that convention.
func creationRequestText(params map[string]any) string {
	if v := stringField(params, "userPrompt"); v != "" {
		return v
	}
	return stringField(params, "requestText")
}

// modificationRequestText pulls the free-text modification request out of a
// modify job's RequestParams (§6 S5: keyed "modificationRequest"), falling
// back to the generic "requestText" key for callers that don't follow that
// convention.
func modificationRequestText(params map[string]any) string {
	if v := stringField(params, "modificationRequest"); v != "" {
		return v
	}
	return stringField(params, "requestText")
}

func requestEnvironment(params map[string]any) string {
	if v, ok := params["environment"].(string); ok && v != "" {
		return v
	}
	return "production"
}

func requestRedeployOnModify(params map[string]any) bool {
	if v, ok := params["redeploy"].(bool); ok {
		return v
	}
	return true // §M11: "optionally re-trigger deployment (default true)"
}

// newExecutor and newLoop are constructed per job (and, for modification
// jobs, reused across the single sandbox the job holds for its whole
// lifetime) since both close over a specific *sandbox.Sandbox.
func newExecutor(sb *sandbox.Sandbox) *agentcmd.Executor {
	return agentcmd.NewExecutor(sb)
}

func newLoop(llm *llmapi.Client, executor *agentcmd.Executor, cost *activity.CostAccumulator) *agentloop.Loop {
	return agentloop.New(llm, executor, cost)
}

func deploymentURLFor(appName string) string {
	return fmt.Sprintf("https://%s.fly.dev", appName)
}

// rollbackAndWrap rolls back tx and returns the original error, swallowing
// any rollback-specific error (the transaction may already be closed if
// the connection died).
func rollbackAndWrap(ctx context.Context, tx pgx.Tx, cause error) error {
	_ = tx.Rollback(ctx)
	return cause
}

// writeAndCommitBlueprint writes the stripped blueprint document into the
// sandbox, commits it as its own commit, separate from the agent's commits,
// and pushes main.
func writeAndCommitBlueprint(ctx context.Context, sb *sandbox.Sandbox, content map[string]any) error {
	encoded, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal api blueprint: %w", err)
	}
	if err := sb.Write(ctx, "api-blueprint.json", string(encoded)); err != nil {
		return fmt.Errorf("write api blueprint: %w", err)
	}
	if _, err := sb.Exec(ctx, "git add api-blueprint.json"); err != nil {
		return fmt.Errorf("stage api blueprint: %w", err)
	}
	if _, err := sb.Exec(ctx, `git commit -m "Add API blueprint" --allow-empty`); err != nil {
		return fmt.Errorf("commit api blueprint: %w", err)
	}
	if _, err := sb.Exec(ctx, "git push origin main"); err != nil {
		return fmt.Errorf("push api blueprint: %w", err)
	}
	return nil
}

// contentMessage builds a typed stream message carrying a JSON document
// (used for the apiBlueprint typed message in both pipelines).
func contentMessage(msgType string, content map[string]any) events.TypedMessage {
	encoded, err := json.Marshal(content)
	if err != nil {
		return events.TypedMessage{Type: msgType}
	}
	return events.TypedMessage{Type: msgType, Content: encoded}
}

// successSummary carries everything the terminal success message must
// render (§9 S1-S3, §8 I10). TotalCostUSD must be the job's
// CostAccumulator.Total() — the sum of every designer, detector, and
// agentic-loop cost entry recorded during the run, not just the agentic
// loop's own aggregated cost.
type successSummary struct {
	Verb           string
	FilesModified  int
	TotalCostUSD   float64
	DeploymentURL  string
	DBName         string
	TableCount     int
	NeedsAuth      bool
	NeedsPayment   bool
	AgentSummary   string
}

// buildSuccessSummary renders the terminal success text. Every line is
// built from fields already computed by the pipeline, not copied verbatim
// from the agent's own summary — that's appended last, as additional
// color, not as a substitute for the required lines.
func buildSuccessSummary(s successSummary) string {
	var b strings.Builder
	b.WriteString(s.Verb)
	if s.DBName != "" {
		fmt.Fprintf(&b, "\nDatabase: %s (%d tables)", s.DBName, s.TableCount)
	}
	fmt.Fprintf(&b, "\nFiles modified: %d", s.FilesModified)
	fmt.Fprintf(&b, "\nCost: $%.4f", s.TotalCostUSD)
	if s.DeploymentURL != "" {
		fmt.Fprintf(&b, "\nDeploying to: %s", s.DeploymentURL)
	}
	if s.NeedsAuth {
		b.WriteString("\n⚠️  CLERK credentials required — add CLERK_SECRET_KEY, CLERK_PUBLISHABLE_KEY, and CLERK_WEBHOOK_SECRET to your deployment environment.")
	}
	if s.NeedsPayment {
		b.WriteString("\n⚠️  STRIPE credentials required — add STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET to your deployment environment.")
	}
	if s.AgentSummary != "" {
		fmt.Fprintf(&b, "\n\n%s", s.AgentSummary)
	}
	return b.String()
}
