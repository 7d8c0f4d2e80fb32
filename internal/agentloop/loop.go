// Package agentloop implements the Agentic Loop (C8): a bounded sequence
// of LLM calls interleaved with sandbox command execution, terminating
// when the model signals taskComplete. Grounded on the teacher's
// iterate-until-done shape (pkg/agent/iteration.go's IterationState) and
// its forgiving-parse-then-recover idiom
// (pkg/agent/controller/react_parser.go), retargeted from ReAct text
// sections to this system's required JSON envelope.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/agentcmd"
	"github.com/turbobackend/worker/internal/llmapi"
	"github.com/turbobackend/worker/internal/models"
)

// DefaultMaxIterations is the loop's default finite iteration cap (§4.8
// Design Notes: "the code defaults to unbounded; implementations must
// allow a finite cap").
const DefaultMaxIterations = 25

// turn is one entry in the running conversation.
type turn struct {
	role    string // "user" or "assistant"
	content string
}

// Request carries everything one loop invocation needs.
type Request struct {
	ProjectID     string
	JobID         string
	UserID        string
	SystemPrompt  string
	InitialPrompt string
	Model         string
	MaxIterations int
}

// Result is the loop's aggregated outcome (§4.8 Termination).
type Result struct {
	Success       bool
	Iterations    int
	FilesModified map[string]string // path -> classification
	DBQueries     []agentcmd.Command
	Summary       string
	APIBlueprint  map[string]any
	TotalCostUSD  float64
}

// Loop runs the bounded iteration sequence for one job.
type Loop struct {
	llm      *llmapi.Client
	executor *agentcmd.Executor
	cost     *activity.CostAccumulator
}

func New(llm *llmapi.Client, executor *agentcmd.Executor, cost *activity.CostAccumulator) *Loop {
	return &Loop{llm: llm, executor: executor, cost: cost}
}

// state tracks iteration bookkeeping, mirroring the teacher's
// IterationState (pkg/agent/iteration.go).
type state struct {
	currentIteration         int
	consecutiveParseFailures int
}

// maxConsecutiveParseFailures aborts the loop early if the model never
// recovers, rather than burning the full iteration budget on noise.
const maxConsecutiveParseFailures = 3

// Run executes the loop to completion or exhaustion of maxIterations.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	conversation := []turn{{role: "user", content: req.InitialPrompt}}
	st := state{}

	filesModified := make(map[string]string)
	var dbQueries []agentcmd.Command
	var totalInputTokens, totalOutputTokens int
	var lastModel string
	var summary string
	var blueprint map[string]any
	success := false

	started := time.Now()
	iterationsRun := 0

	for st.currentIteration = 1; st.currentIteration <= maxIterations; st.currentIteration++ {
		iterationsRun = st.currentIteration
		prompt := renderConversation(conversation)

		resp, err := l.llm.Generate(ctx, prompt, req.SystemPrompt, true)
		if err != nil {
			return Result{}, fmt.Errorf("agentic loop iteration %d: llm call: %w", st.currentIteration, err)
		}
		totalInputTokens += resp.Usage.InputTokens
		totalOutputTokens += resp.Usage.OutputTokens
		if resp.Model != "" {
			lastModel = resp.Model
		}

		parsed, ok := parseResponse(resp.Text)
		conversation = append(conversation, turn{role: "assistant", content: resp.Text})

		if !ok {
			st.consecutiveParseFailures++
			slog.Warn("Agentic loop response failed to parse as JSON", "iteration", st.currentIteration)
			if st.consecutiveParseFailures >= maxConsecutiveParseFailures {
				break
			}
			conversation = append(conversation, turn{role: "user", content: correctiveUserTurn})
			continue
		}
		st.consecutiveParseFailures = 0

		results, deferred := l.executor.Execute(ctx, parsed.Commands)
		dbQueries = append(dbQueries, deferred...)

		for _, cmd := range parsed.Commands {
			if cmd.Type == agentcmd.TypeWrite {
				filesModified[cmd.Path] = classifyPath(cmd.Path)
			}
		}

		conversation = append(conversation, turn{role: "user", content: renderResults(results)})

		summary = parsed.Summary
		if parsed.APIBlueprint != nil {
			blueprint = parsed.APIBlueprint
		}

		if parsed.TaskComplete {
			success = true
			break
		}
	}

	elapsed := time.Since(started)
	totalCost := l.cost.RecordMessage(ctx, models.MessageCostEntry{
		CostID:           uuid.NewString(),
		ProjectID:        req.ProjectID,
		JobID:            req.JobID,
		UserID:           req.UserID,
		MessageType:      models.MessageTypeAgenticLoop,
		Model:            lastModel,
		InputTokens:      totalInputTokens,
		OutputTokens:     totalOutputTokens,
		TimeToCompletion: elapsed,
		StartedAt:        started,
	})

	return Result{
		Success:       success,
		Iterations:    iterationsRun,
		FilesModified: filesModified,
		DBQueries:     dbQueries,
		Summary:       summary,
		APIBlueprint:  blueprint,
		TotalCostUSD:  totalCost,
	}, nil
}

func renderConversation(conversation []turn) string {
	var b strings.Builder
	for i, t := range conversation {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.role == "user" {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.content)
	}
	return b.String()
}

func renderResults(results []agentcmd.Result) string {
	var b strings.Builder
	b.WriteString("Command results:\n")
	for i, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "%d. ok: %s\n", i+1, truncate(r.Output, 2000))
		} else {
			fmt.Fprintf(&b, "%d. error: %s\n", i+1, r.Error)
		}
	}
	b.WriteString("\nContinue, or set taskComplete=true if the API now fully satisfies the request.")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
