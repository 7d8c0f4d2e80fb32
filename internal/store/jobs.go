package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turbobackend/worker/internal/models"
)

// ErrNoJobsAvailable is returned by ClaimNextJob when the queue holds no
// claimable job right now (not an error condition — the poll loop treats
// it as "nothing to do this tick", per pkg/queue/worker.go's
// ErrNoSessionsAvailable).
var ErrNoJobsAvailable = fmt.Errorf("store: no jobs available")

// EnqueueJob inserts a new job payload, ready to be claimed immediately.
func (q *Queries) EnqueueJob(ctx context.Context, jobID, jobName string, payload models.JobPayload, maxAttempts int) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO jobs (job_id, job_name, payload, max_attempts)
		VALUES ($1, $2, $3, $4)`,
		jobID, jobName, payloadJSON, maxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest claimable job using
// SELECT ... FOR UPDATE SKIP LOCKED, exactly as the teacher's
// claimNextSession does for AlertSession (pkg/queue/worker.go), generalized
// to any of the registered job names and to a not_before retry schedule.
func (q *Queries) ClaimNextJob(ctx context.Context, tx pgx.Tx, owner string, leaseDuration time.Duration) (*models.Job, error) {
	row := tx.QueryRow(ctx, `
		SELECT job_id, job_name, payload, attempt
		FROM jobs
		WHERE status = 'pending' AND not_before <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)

	var (
		jobID, jobName string
		payloadJSON    []byte
		attempt        int
	)
	if err := row.Scan(&jobID, &jobName, &payloadJSON, &attempt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("query pending job: %w", err)
	}

	var payload models.JobPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}

	attempt++
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'in_progress', attempt = $2, lease_owner = $3, lease_expires_at = now() + $4, updated_at = now()
		WHERE job_id = $1`,
		jobID, attempt, owner, leaseDuration); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	return &models.Job{ID: jobID, Name: jobName, Attempt: attempt, Payload: payload}, nil
}

// RenewLease extends a claimed job's lease; called periodically by the
// worker holding the job (§4.1: "renewed periodically at a fixed fraction
// of the lease").
func (q *Queries) RenewLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = now() + $3, updated_at = now()
		WHERE job_id = $1 AND lease_owner = $2 AND status = 'in_progress'`,
		jobID, owner, leaseDuration)
	if err != nil {
		return fmt.Errorf("renew job lease: %w", err)
	}
	return nil
}

// CompleteJob marks a job as done and releases its lease.
func (q *Queries) CompleteJob(ctx context.Context, jobID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'completed', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob records a failure. If attempts remain under max_attempts, the job
// is rescheduled after an exponential backoff with jitter (the queue's own
// retry policy, §4.1 — "the worker does not implement retry logic itself"
// beyond this re-delivery bookkeeping); otherwise it is marked failed
// terminally.
func (q *Queries) FailJob(ctx context.Context, jobID string, attempt int, errMsg string, backoff time.Duration) error {
	var status string
	var notBefore time.Time
	row := q.db.QueryRow(ctx, `SELECT max_attempts FROM jobs WHERE job_id = $1`, jobID)
	var maxAttempts int
	if err := row.Scan(&maxAttempts); err != nil {
		return fmt.Errorf("load job for failure handling: %w", err)
	}
	if attempt < maxAttempts {
		status = "pending"
		notBefore = time.Now().Add(backoff)
	} else {
		status = "failed"
		notBefore = time.Now()
	}
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = $2, not_before = $3, last_error = $4, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE job_id = $1`, jobID, status, notBefore, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// ReclaimExpiredLeases returns jobs whose lease has elapsed back to
// pending, enabling at-least-once redelivery if a worker dies mid-job
// (§4.1, §6).
func (q *Queries) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'in_progress' AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearPendingJobs removes all jobs not currently in progress. Used only in
// non-production mode on shutdown (§4.1).
func (q *Queries) ClearPendingJobs(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `DELETE FROM jobs WHERE status != 'in_progress'`)
	if err != nil {
		return fmt.Errorf("clear pending jobs: %w", err)
	}
	return nil
}
