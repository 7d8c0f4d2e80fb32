package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/turbobackend/worker/internal/store"
)

// Runtime manages a pool of Workers plus the background sweep that
// reclaims jobs whose lease expired without a renewal (a dead worker, a
// crashed pod). Grounded on the teacher's WorkerPool (pkg/queue/pool.go),
// with orphan-session detection retargeted to store.ReclaimExpiredLeases.
type Runtime struct {
	podID      string
	store      *store.Store
	dispatcher *Dispatcher
	cfg        Config

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

func NewRuntime(podID string, st *store.Store, dispatcher *Dispatcher, cfg Config) *Runtime {
	return &Runtime{
		podID:      podID,
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
	}
}

// Start spawns the worker goroutines and the lease-reclaim sweep. Safe to
// call only once; subsequent calls are no-ops.
func (r *Runtime) Start(ctx context.Context) {
	if r.started {
		slog.Warn("worker runtime already started, ignoring duplicate start", "pod_id", r.podID)
		return
	}
	r.started = true

	slog.Info("starting worker runtime", "pod_id", r.podID, "worker_count", r.cfg.WorkerCount)
	for i := 0; i < r.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", r.podID, i)
		worker := NewWorker(workerID, r.store, r.dispatcher, r.cfg)
		r.workers = append(r.workers, worker)
		worker.Start(ctx)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runReclaimSweep(ctx)
	}()
}

// Stop signals every worker to stop and waits up to
// cfg.GracefulShutdownTimeout for in-flight jobs to finish.
func (r *Runtime) Stop() {
	slog.Info("stopping worker runtime", "pod_id", r.podID)

	done := make(chan struct{})
	go func() {
		for _, w := range r.workers {
			w.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.GracefulShutdownTimeout):
		slog.Warn("graceful shutdown timed out, exiting anyway", "pod_id", r.podID)
	}

	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	slog.Info("worker runtime stopped", "pod_id", r.podID)
}

func (r *Runtime) runReclaimSweep(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReclaimInterval)
	defer ticker.Stop()

	queries := store.New(r.store.Pool)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queries.ReclaimExpiredLeases(ctx)
			if err != nil {
				slog.Error("lease reclaim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed jobs with expired leases", "count", n)
			}
		}
	}
}

// RuntimeHealth aggregates the pool's state for a health endpoint.
type RuntimeHealth struct {
	PodID         string
	TotalWorkers  int
	ActiveWorkers int
	WorkerStats   []Health
}

func (r *Runtime) Health() RuntimeHealth {
	stats := make([]Health, len(r.workers))
	active := 0
	for i, w := range r.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == StatusWorking {
			active++
		}
	}
	return RuntimeHealth{
		PodID:         r.podID,
		TotalWorkers:  len(r.workers),
		ActiveWorkers: active,
		WorkerStats:   stats,
	}
}
