package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		LeaseDuration:           5 * time.Minute,
		ReclaimInterval:         1 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	w := NewWorker("test-worker", nil, nil, testConfig())

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", nil, nil, cfg)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d, "poll interval should equal base when jitter is 0")
	}
}

func TestWorkerHealth(t *testing.T) {
	w := NewWorker("worker-1", nil, nil, testConfig())

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, StatusIdle, h.Status)
	assert.Equal(t, "", h.CurrentJobID)
	assert.Equal(t, 0, h.JobsProcessed)

	w.setStatus(StatusWorking, "job-abc")
	h = w.Health()
	assert.Equal(t, StatusWorking, h.Status)
	assert.Equal(t, "job-abc", h.CurrentJobID)

	w.setStatus(StatusIdle, "")
	h = w.Health()
	assert.Equal(t, StatusIdle, h.Status)
	assert.Equal(t, "", h.CurrentJobID)
}

func TestLeaseRenewInterval(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseDuration = 9 * time.Minute
	assert.Equal(t, 3*time.Minute, cfg.leaseRenewInterval())
}

func TestBackoffForAttemptDoublesAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffForAttempt(attempt)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 61*time.Second)
		if attempt > 0 {
			assert.GreaterOrEqual(t, d, prev-time.Second, "backoff should trend upward until it caps")
		}
		prev = d
	}
}
