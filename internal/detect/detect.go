// Package detect implements the three intent detectors (C4): tiny
// LLM-driven classifiers deciding whether a request needs a database, auth,
// or payments. Each is a JSON-only single-shot LLM call with a safe default
// on any failure, grounded on the teacher's forgiving-parse-with-fallback
// idiom (pkg/agent/controller/react_parser.go) retargeted from ReAct text
// sections to a small JSON envelope, and on the cost-entry bookkeeping
// every LLM call in this system performs (internal/activity).
package detect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/llmapi"
	"github.com/turbobackend/worker/internal/models"
)

// Result is the outcome of one classifier call.
type Result struct {
	Needed    bool   `json:"needed"`
	Reasoning string `json:"reasoning"`
}

func safeDefault() Result {
	return Result{Needed: false, Reasoning: "detection failed"}
}

// Detector runs all three classifiers against the same LLM adapter.
type Detector struct {
	llm  *llmapi.Client
	cost *activity.CostAccumulator
}

func NewDetector(llm *llmapi.Client, cost *activity.CostAccumulator) *Detector {
	return &Detector{llm: llm, cost: cost}
}

type detectorSpec struct {
	messageType  string
	systemPrompt string
}

var (
	dbSpec = detectorSpec{
		messageType: models.MessageTypeDBDetection,
		systemPrompt: `You decide whether a backend request requires a relational database.
Respond with JSON only, no prose, matching exactly: {"needed": boolean, "reasoning": string}.`,
	}
	authSpec = detectorSpec{
		messageType: models.MessageTypeAuthDetection,
		systemPrompt: `You decide whether a backend request requires user authentication.
Respond with JSON only, no prose, matching exactly: {"needed": boolean, "reasoning": string}.`,
	}
	paymentSpec = detectorSpec{
		messageType: models.MessageTypePaymentDetection,
		systemPrompt: `You decide whether a backend request requires payment processing.
Respond with JSON only, no prose, matching exactly: {"needed": boolean, "reasoning": string}.`,
	}
)

// NeedsDatabase classifies whether the request implies a relational database.
func (d *Detector) NeedsDatabase(ctx context.Context, projectID, jobID, userID, requestText string) Result {
	return d.classify(ctx, dbSpec, projectID, jobID, userID, requestText)
}

// NeedsAuth classifies whether the request implies user authentication.
func (d *Detector) NeedsAuth(ctx context.Context, projectID, jobID, userID, requestText string) Result {
	return d.classify(ctx, authSpec, projectID, jobID, userID, requestText)
}

// NeedsPayment classifies whether the request implies payment processing.
func (d *Detector) NeedsPayment(ctx context.Context, projectID, jobID, userID, requestText string) Result {
	return d.classify(ctx, paymentSpec, projectID, jobID, userID, requestText)
}

func (d *Detector) classify(ctx context.Context, spec detectorSpec, projectID, jobID, userID, requestText string) Result {
	started := time.Now()
	resp, err := d.llm.Generate(ctx, requestText, spec.systemPrompt, true)
	elapsed := time.Since(started)

	if err != nil {
		slog.Warn("Intent detector LLM call failed", "message_type", spec.messageType, "error", err)
		return safeDefault()
	}

	result, parseErr := parseResult(resp.Text)
	if parseErr != nil {
		slog.Warn("Intent detector response was not valid JSON", "message_type", spec.messageType, "error", parseErr)
		result = safeDefault()
	}

	d.cost.RecordMessage(ctx, models.MessageCostEntry{
		CostID:           uuid.NewString(),
		ProjectID:        projectID,
		JobID:            jobID,
		UserID:           userID,
		PromptContent:    requestText,
		MessageType:      spec.messageType,
		Model:            resp.Model,
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		TimeToCompletion: elapsed,
		StartedAt:        started,
	})

	return result
}

// parseResult tolerates an LLM wrapping its JSON in a code fence or
// surrounding prose, matching the forgiving-parse style used throughout
// this system's LLM response handling.
func parseResult(text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return Result{}, errNotJSON
	}

	var r Result
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &r); err != nil {
		return Result{}, err
	}
	return r, nil
}

var errNotJSON = errors.New("detector response contained no JSON object")
