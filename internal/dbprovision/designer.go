// Package dbprovision implements the Schema Designer & Database Provisioner
// (C5): an LLM call that proposes a schema, followed by a five-step
// provisioning sequence against the project-database cluster. Grounded on
// the teacher's own cluster-credential-driven connection idiom
// (pkg/database/client.go) generalized from the single control database to
// an arbitrary per-project database on the same cluster.
package dbprovision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/llmapi"
	"github.com/turbobackend/worker/internal/models"
)

// Column describes one designed table column.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Constraints string `json:"constraints"`
}

// Table is one designed table.
type Table struct {
	TableName   string   `json:"tableName"`
	Columns     []Column `json:"columns"`
	CreateQuery string   `json:"createQuery"`
}

// Schema is the designer's full output (§4.5).
type Schema struct {
	Tables []Table `json:"tables"`
}

const designerSystemPrompt = `You design a relational database schema for a backend API request.
Respond with JSON only, no prose, matching exactly:
{"tables": [{"tableName": string, "columns": [{"name": string, "type": string, "constraints": string}], "createQuery": string}]}.
Conventions: identifier columns use a variable-width text type (e.g. TEXT or VARCHAR); timestamp columns use a 64-bit integer
number of seconds since epoch (e.g. BIGINT), never a native timestamp type. Encode PRIMARY KEY, UNIQUE, NOT NULL, and FOREIGN
KEY constraints directly inline in createQuery.`

// Designer calls the LLM to produce a Schema.
type Designer struct {
	llm  *llmapi.Client
	cost *activity.CostAccumulator
}

func NewDesigner(llm *llmapi.Client, cost *activity.CostAccumulator) *Designer {
	return &Designer{llm: llm, cost: cost}
}

// Design proposes a schema for the given request description.
func (d *Designer) Design(ctx context.Context, projectID, jobID, userID, requestText string) (*Schema, error) {
	started := time.Now()
	resp, err := d.llm.Generate(ctx, requestText, designerSystemPrompt, true)
	elapsed := time.Since(started)
	if err != nil {
		return nil, fmt.Errorf("schema designer llm call: %w", err)
	}

	d.cost.RecordMessage(ctx, models.MessageCostEntry{
		CostID:           uuid.NewString(),
		ProjectID:        projectID,
		JobID:            jobID,
		UserID:           userID,
		PromptContent:    requestText,
		MessageType:      models.MessageTypeSchemaDesign,
		Model:            resp.Model,
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		TimeToCompletion: elapsed,
		StartedAt:        started,
	})

	schema, err := parseSchema(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse schema designer response: %w", err)
	}
	if len(schema.Tables) == 0 {
		return nil, errors.New("schema designer returned no tables")
	}
	return schema, nil
}

func parseSchema(text string) (*Schema, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("response contained no JSON object")
	}

	var schema Schema
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}
