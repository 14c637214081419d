package publish_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/publishq/internal/platform/mock"
	"github.com/kiranshivaraju/publishq/internal/publish"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnce_TimesOutStaleJob(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	adapter := mock.NewBlockingAdapter(models.PlatformYouTube, release)
	adapter.Stale = time.Minute
	h := newHarness(t, adapter, 10000)

	job, err := h.orch.Create(context.Background(), h.caller, h.request())
	require.NoError(t, err)
	h.waitStatus(t, job.ID, models.JobStatusUploading)
	require.Eventually(t, func() bool {
		j, _ := h.store.GetJob(context.Background(), job.ID)
		return j != nil && j.Progress == 5
	}, 5*time.Second, 5*time.Millisecond)

	sweeper := publish.NewSweeper(h.orch, time.Minute, 0)

	// Recent progress keeps the job alive.
	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.store.Touch(job.ID, time.Now().UTC().Add(-2*time.Minute))
	n, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.orch.Get(context.Background(), h.caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, models.ErrorCodeTimeout, errorCode(got))
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no progress")
	require.Eventually(t, func() bool { return h.orch.Running() == 0 }, time.Second, 5*time.Millisecond)

	// Already failed; a second pass finds nothing.
	n, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepOnce_TimedOutJobIsRetryable(t *testing.T) {
	release := make(chan struct{})
	adapter := mock.NewBlockingAdapter(models.PlatformYouTube, release)
	adapter.Stale = time.Minute
	h := newHarness(t, adapter, 10000)

	job, err := h.orch.Create(context.Background(), h.caller, h.request())
	require.NoError(t, err)
	h.waitStatus(t, job.ID, models.JobStatusUploading)

	h.store.Touch(job.ID, time.Now().UTC().Add(-time.Hour))
	n, err := publish.NewSweeper(h.orch, time.Minute, 0).SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	close(release)
	retried, err := h.orch.Retry(context.Background(), h.caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.AttemptCount)

	final := h.wait(t, job.ID)
	assert.Equal(t, models.JobStatusLive, final.Status)
	assert.Equal(t, 2, final.AttemptCount)
}

func TestSweeper_Run(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	adapter := mock.NewBlockingAdapter(models.PlatformYouTube, release)
	adapter.Stale = time.Minute
	h := newHarness(t, adapter, 10000)

	job, err := h.orch.Create(context.Background(), h.caller, h.request())
	require.NoError(t, err)
	h.waitStatus(t, job.ID, models.JobStatusUploading)
	h.store.Touch(job.ID, time.Now().UTC().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- publish.NewSweeper(h.orch, 10*time.Millisecond, 0).Run(ctx) }()

	h.waitStatus(t, job.ID, models.JobStatusFailed)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
