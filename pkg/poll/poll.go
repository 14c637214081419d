// Package poll is the caller-side primitive for watching a job: fetch on a
// fixed interval until the value is final or the context ends.
package poll

import (
	"context"
	"time"

	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Until calls fetch immediately and then every interval until done reports
// true, fetch fails, or ctx ends. observe, if non-nil, sees every fetched value.
func Until[T any](ctx context.Context, interval time.Duration, fetch func(context.Context) (T, error), done func(T) bool, observe func(T)) (T, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if observe != nil {
			observe(v)
		}
		if done(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ticker.C:
		}
	}
}

// UntilTerminal polls a job until its status is live, failed or cancelled.
// onChange is called each time the observed status or progress differs from
// the previous poll, so repeated identical reads are not reported.
func UntilTerminal(ctx context.Context, interval time.Duration, fetch func(context.Context) (*models.PublishJob, error), onChange func(*models.PublishJob)) (*models.PublishJob, error) {
	var (
		lastStatus   models.JobStatus
		lastProgress = -1
		lastAttempt  int
	)
	observe := func(j *models.PublishJob) {
		if onChange == nil || j == nil {
			return
		}
		if j.Status == lastStatus && j.Progress == lastProgress && j.AttemptCount == lastAttempt {
			return
		}
		lastStatus, lastProgress, lastAttempt = j.Status, j.Progress, j.AttemptCount
		onChange(j)
	}
	done := func(j *models.PublishJob) bool {
		return j != nil && j.Status.Terminal()
	}
	return Until(ctx, interval, fetch, done, observe)
}
