package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turbobackend/worker/internal/models"
)

// newTestStore connects to the CI-provided Postgres service (when
// CONTROL_DB_HOST is set) or spins up a disposable postgres testcontainer
// for local runs. Mirrors the teacher's test/database/client.go dual-mode
// setup, retargeted from an ent.Client to this package's own Store +
// embedded migrations.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("CONTROL_DB_HOST") != "" {
		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		st, err := NewStore(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(st.Close)
		return st
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("turbobackend_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := Config{
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		Database: "turbobackend_test",
		SSLMode:  "disable",
		Schema:   "public",
		MaxConns: 5,
	}
	st, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestJobQueueRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}
	st := newTestStore(t)
	ctx := context.Background()
	queries := New(st.Pool)

	payload := models.JobPayload{
		ProjectID: "proj-1",
		UserID:    "user-1",
		RequestID: "req-1",
		StreamID:  "stream-1",
		RequestParams: map[string]any{
			"requestText": "build a todo api",
		},
	}
	require.NoError(t, queries.EnqueueJob(ctx, "job-1", models.JobCreateProject, payload, 3))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	claimQueries := New(tx)
	job, err := claimQueries.ClaimNextJob(ctx, tx, "worker-1", 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Equal(t, "job-1", job.ID)
	require.Equal(t, models.JobCreateProject, job.Name)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, "proj-1", job.Payload.ProjectID)

	// A second claim attempt finds nothing: the job is leased.
	tx2, err := st.Begin(ctx)
	require.NoError(t, err)
	claimQueries2 := New(tx2)
	_, err = claimQueries2.ClaimNextJob(ctx, tx2, "worker-2", 5*time.Minute)
	require.ErrorIs(t, err, ErrNoJobsAvailable)
	require.NoError(t, tx2.Rollback(ctx))

	require.NoError(t, queries.CompleteJob(ctx, job.ID))
}

func TestReclaimExpiredLeases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}
	st := newTestStore(t)
	ctx := context.Background()
	queries := New(st.Pool)

	payload := models.JobPayload{ProjectID: "proj-2", UserID: "user-2", RequestID: "req-2", StreamID: "stream-2"}
	require.NoError(t, queries.EnqueueJob(ctx, "job-2", models.JobCreateProject, payload, 3))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	claimQueries := New(tx)
	_, err = claimQueries.ClaimNextJob(ctx, tx, "worker-1", -1*time.Second) // already-expired lease
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	reclaimed, err := queries.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)
}
