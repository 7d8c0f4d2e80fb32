// Package activity implements the Activity Ledger (C3): an append-only
// record of everything a pipeline does to a project, keyed by action type,
// grounded on the teacher's EventService append/query idiom
// (pkg/services/event_service.go) and generalized from ent to the
// internal/store Queries.
package activity

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/store"
)

// Ledger appends Activity Entries. Writes never propagate failure to the
// caller (§4.3: "activity logging must never fail the main operation").
//
// tx, when non-nil, is the job's outer transaction: each write runs inside
// its own SAVEPOINT on that transaction, so a failed INSERT rolls back to
// the savepoint instead of aborting the whole outer transaction (a plain
// error on a pgx.Tx poisons it until rollback — swallowing the error alone
// does not undo that). tx is nil for read-only Ledgers built outside a
// pipeline's transaction.
type Ledger struct {
	queries *store.Queries
	tx      pgx.Tx
}

func NewLedger(queries *store.Queries, tx pgx.Tx) *Ledger {
	return &Ledger{queries: queries, tx: tx}
}

// Record writes one activity entry. Errors are logged and swallowed.
func (l *Ledger) Record(ctx context.Context, entry models.ActivityEntry) {
	if entry.Status == "" {
		entry.Status = models.ActivityStatusSuccess
	}
	if err := l.write(ctx, entry); err != nil {
		slog.Error("Failed to write activity entry",
			"action_type", entry.ActionType,
			"project_id", entry.ProjectID,
			"error", err)
	}
}

func (l *Ledger) write(ctx context.Context, entry models.ActivityEntry) error {
	if l.tx == nil {
		return l.queries.CreateActivityEntry(ctx, entry)
	}
	spTx, err := l.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.New(spTx).CreateActivityEntry(ctx, entry); err != nil {
		_ = spTx.Rollback(ctx)
		return err
	}
	return spTx.Commit(ctx)
}

// RecordFailure is a convenience wrapper for a failed step.
func (l *Ledger) RecordFailure(ctx context.Context, entry models.ActivityEntry) {
	entry.Status = models.ActivityStatusFailed
	l.Record(ctx, entry)
}
