package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/store"
)

// Status is a worker's current state, reported through Health.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Health is a point-in-time snapshot of one worker.
type Health struct {
	ID            string
	Status        Status
	CurrentJobID  string
	JobsProcessed int
	LastActivity  time.Time
}

// Worker polls for and processes jobs one at a time. Grounded on the
// teacher's Worker (pkg/queue/worker.go): same poll-claim-execute-heartbeat
// shape, with AlertSession's ent query replaced by store.Queries.ClaimNextJob.
type Worker struct {
	id         string
	store      *store.Store
	dispatcher *Dispatcher
	cfg        Config
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	mu            sync.RWMutex
	status        Status
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func NewWorker(id string, st *store.Store, dispatcher *Dispatcher, cfg Config) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		dispatcher:   dispatcher,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		status:       StatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker's poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its current job and waits for it
// to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Health{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error claiming job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.cfg.PollIntervalJitter <= 0 {
		return w.cfg.PollInterval
	}
	jitter := time.Duration(rand.Int64N(int64(2*w.cfg.PollIntervalJitter))) - w.cfg.PollIntervalJitter
	return w.cfg.PollInterval + jitter
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next pending job (if any) and runs it to
// completion. A nil error with no job claimed is impossible: the claim
// step either returns a job or store.ErrNoJobsAvailable.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim transaction: %w", err)
	}
	claimQueries := store.New(tx)
	job, err := claimQueries.ClaimNextJob(ctx, tx, w.id, w.cfg.LeaseDuration)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job claim: %w", err)
	}

	log := slog.With("job_id", job.ID, "job_name", job.Name, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(StatusWorking, job.ID)
	defer w.setStatus(StatusIdle, "")

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	procErr := w.dispatcher.Dispatch(jobCtx, *job)
	cancelHeartbeat()

	queries := store.New(w.store.Pool)
	if procErr != nil {
		backoff := backoffForAttempt(job.Attempt)
		if err := queries.FailJob(context.Background(), job.ID, job.Attempt, procErr.Error(), backoff); err != nil {
			log.Error("failed to record job failure", "error", err)
		}
		log.Error("job failed", "error", procErr)
	} else {
		if err := queries.CompleteJob(context.Background(), job.ID); err != nil {
			log.Error("failed to record job completion", "error", err)
		}
		log.Info("job completed")
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()

	return nil
}

// runHeartbeat renews the job's lease at a fixed fraction of its duration
// so a live worker is never mistaken for a dead one (§4.1).
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	interval := w.cfg.leaseRenewInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	queries := store.New(w.store.Pool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := queries.RenewLease(context.Background(), jobID, w.id, w.cfg.LeaseDuration); err != nil {
				slog.Warn("lease renewal failed", "job_id", jobID, "worker_id", w.id, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status Status, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

// backoffForAttempt doubles from 2s per attempt, capped at 60s, plus up to
// 1s of jitter (the same doubling-cap-then-jitter shape the teacher uses
// for LISTEN reconnects and MCP retries, pkg/events/listener.go and
// pkg/mcp/client.go).
func backoffForAttempt(attempt int) time.Duration {
	base := 2 * time.Second
	backoff := base << attempt
	const cap = 60 * time.Second
	if backoff <= 0 || backoff > cap {
		backoff = cap
	}
	jitter := time.Duration(rand.Int64N(int64(time.Second)))
	return backoff + jitter
}
