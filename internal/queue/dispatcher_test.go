package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbobackend/worker/internal/models"
)

func TestDispatcherDispatchesToRegisteredProcessor(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Register(models.JobCreateProject, func(ctx context.Context, job models.Job) error {
		called = true
		assert.Equal(t, "job-1", job.ID)
		return nil
	})

	err := d.Dispatch(context.Background(), models.Job{ID: "job-1", Name: models.JobCreateProject})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDispatcherUnknownJobName(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), models.Job{ID: "job-1", Name: "does-not-exist"})
	assert.Error(t, err)
}

func TestDispatcherPanicsOnDuplicateRegistration(t *testing.T) {
	d := NewDispatcher()
	d.Register(models.JobCreateProject, func(ctx context.Context, job models.Job) error { return nil })

	assert.Panics(t, func() {
		d.Register(models.JobCreateProject, func(ctx context.Context, job models.Job) error { return nil })
	})
}
