package queue

import "time"

// Config controls how the worker pool polls, claims, and leases jobs.
// Mirrors the shape of the teacher's config.QueueConfig (pkg/config/queue.go),
// retargeted from session concurrency limits to job-queue lease mechanics.
type Config struct {
	// WorkerCount is the number of poll goroutines in this process.
	WorkerCount int

	// PollInterval is the base interval between claim attempts when the
	// queue was empty on the last attempt.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval so
	// every worker in a replica doesn't wake on the same tick.
	PollIntervalJitter time.Duration

	// LeaseDuration is how long a claimed job's lease lasts before it is
	// eligible for reclaim by ReclaimExpiredLeases (§4.1).
	LeaseDuration time.Duration

	// ReclaimInterval is how often the background sweep looks for jobs
	// whose lease has expired.
	ReclaimInterval time.Duration

	// GracefulShutdownTimeout bounds how long Stop waits for in-flight
	// jobs to finish before returning anyway.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns the built-in queue defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		LeaseDuration:           5 * time.Minute,
		ReclaimInterval:         1 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
	}
}

// leaseRenewInterval renews the lease at a fixed fraction of its duration
// (§4.1: "renewed periodically at a fixed fraction of the lease").
func (c Config) leaseRenewInterval() time.Duration {
	return c.LeaseDuration / 3
}
