// Package queue implements the Dispatcher & Worker Runtime (C12): a small
// pool of goroutines that each poll the jobs table, claim work with
// SELECT ... FOR UPDATE SKIP LOCKED, and hand claimed jobs to the
// registered processor for that job's name. Grounded on the teacher's
// pkg/queue/worker.go and pkg/queue/pool.go (WorkerPool + Worker), with
// AlertSession's ent-backed claim/heartbeat/terminal-status sequence
// retargeted to the plain SQL primitives in internal/store/jobs.go.
package queue

import (
	"context"
	"fmt"

	"github.com/turbobackend/worker/internal/models"
)

// Processor runs one claimed job to completion.
type Processor func(ctx context.Context, job models.Job) error

// Dispatcher maps a job's name to the processor that handles it (§4.1:
// "initialProjectCreationJob" -> creation pipeline,
// "projectModificationJob" -> modification pipeline).
type Dispatcher struct {
	processors map[string]Processor
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{processors: make(map[string]Processor)}
}

// Register binds a job name to its processor. Panics on a duplicate
// registration, since that is a wiring bug caught at startup, never at
// runtime.
func (d *Dispatcher) Register(jobName string, p Processor) {
	if _, exists := d.processors[jobName]; exists {
		panic(fmt.Sprintf("queue: processor already registered for job %q", jobName))
	}
	d.processors[jobName] = p
}

// Dispatch runs the processor registered for job.Name.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.Job) error {
	p, ok := d.processors[job.Name]
	if !ok {
		return fmt.Errorf("queue: no processor registered for job %q", job.Name)
	}
	return p(ctx, job)
}
