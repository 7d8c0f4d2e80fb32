package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/store"
)

// ModelPrice is the per-million-token rate for one model, in USD.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps a model name to its rate card. DefaultPrice is used for
// any model not present in the table (§4.3: "unknown models degrade to a
// configured default and log a warning").
type PriceTable struct {
	Prices       map[string]ModelPrice
	DefaultPrice ModelPrice
}

// DefaultPriceTable mirrors common current-generation provider rates.
// Operators are expected to override it via configuration as pricing shifts.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Prices: map[string]ModelPrice{
			"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
			"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"claude-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
			"claude-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		},
		DefaultPrice: ModelPrice{InputPerMillion: 3.00, OutputPerMillion: 15.00},
	}
}

// CostFor computes the USD cost of one LLM call.
func (pt PriceTable) CostFor(inputTokens, outputTokens int, model string) float64 {
	price, ok := pt.Prices[model]
	if !ok {
		slog.Warn("Unknown model in price table, using default rate", "model", model)
		price = pt.DefaultPrice
	}
	return float64(inputTokens)/1_000_000*price.InputPerMillion +
		float64(outputTokens)/1_000_000*price.OutputPerMillion
}

// CostAccumulator records one Message-Cost Entry per LLM call made during a
// pipeline run, and keeps a running total across every call recorded through
// one instance — one CostAccumulator is built per job (newJobDeps) and
// shared by the detectors, the schema designer, and the agentic loop, so its
// running total is exactly the job's total LLM spend (§8 I10: reported total
// cost equals designer + detector + aggregated agentic cost).
//
// tx, when non-nil, is the job's outer transaction: each write runs inside
// its own SAVEPOINT on that transaction, matching Ledger's isolation (see
// activity.go) so a failed INSERT cannot poison the rest of the job's
// control-DB writes.
type CostAccumulator struct {
	queries *store.Queries
	tx      pgx.Tx
	prices  PriceTable
	total   float64
}

func NewCostAccumulator(queries *store.Queries, tx pgx.Tx, prices PriceTable) *CostAccumulator {
	return &CostAccumulator{queries: queries, tx: tx, prices: prices}
}

// RecordMessage writes one cost row and returns the computed USD cost. Any
// write failure is logged and swallowed (§4.3), matching the ledger's own
// never-fail-the-caller contract.
func (c *CostAccumulator) RecordMessage(ctx context.Context, entry models.MessageCostEntry) float64 {
	entry.CostUSD = c.prices.CostFor(entry.InputTokens, entry.OutputTokens, entry.Model)
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if err := c.write(ctx, entry); err != nil {
		slog.Error("Failed to write message cost entry",
			"message_type", entry.MessageType,
			"project_id", entry.ProjectID,
			"error", err)
	}
	c.total += entry.CostUSD
	return entry.CostUSD
}

func (c *CostAccumulator) write(ctx context.Context, entry models.MessageCostEntry) error {
	if c.tx == nil {
		return c.queries.CreateMessageCostEntry(ctx, entry)
	}
	spTx, err := c.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.New(spTx).CreateMessageCostEntry(ctx, entry); err != nil {
		_ = spTx.Rollback(ctx)
		return err
	}
	return spTx.Commit(ctx)
}

// Total returns the sum of every cost recorded through this accumulator so
// far.
func (c *CostAccumulator) Total() float64 {
	return c.total
}
