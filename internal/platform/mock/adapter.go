// Package mock provides a scriptable PlatformAdapter for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Adapter satisfies models.PlatformAdapter for testing.
type Adapter struct {
	Name       models.Platform
	Cost       int64
	Stale      time.Duration
	UploadFunc func(ctx context.Context, req models.PublishRequest) (<-chan models.ProgressEvent, error)

	mu       sync.Mutex
	requests []models.PublishRequest
	aborted  []uuid.UUID
}

func (a *Adapter) Platform() models.Platform { return a.Name }

func (a *Adapter) UploadCost(_ models.PublishRequest) int64 { return a.Cost }

func (a *Adapter) StaleThreshold() time.Duration {
	if a.Stale == 0 {
		return time.Minute
	}
	return a.Stale
}

func (a *Adapter) Upload(ctx context.Context, req models.PublishRequest) (<-chan models.ProgressEvent, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	if a.UploadFunc != nil {
		return a.UploadFunc(ctx, req)
	}
	return Emit(ctx, Live(req.JobID)...), nil
}

// Abort records the job id; the mock can always abort.
func (a *Adapter) Abort(_ context.Context, jobID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = append(a.aborted, jobID)
	return nil
}

// Calls returns how many times Upload was invoked.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Requests returns a copy of every request Upload received.
func (a *Adapter) Requests() []models.PublishRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.PublishRequest(nil), a.requests...)
}

// Aborted returns the job ids Abort was called with.
func (a *Adapter) Aborted() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.aborted...)
}

// URL is the platform URL the mock reports for a job.
func URL(jobID uuid.UUID) string {
	return fmt.Sprintf("https://mock.example/watch/%s", jobID)
}

// Live is the happy-path script: uploading 10%, processing 60%, live.
func Live(jobID uuid.UUID) []models.ProgressEvent {
	return []models.ProgressEvent{
		{Status: models.JobStatusUploading, Progress: 10},
		{Status: models.JobStatusProcessing, Progress: 60},
		{Status: models.JobStatusLive, Progress: 100, PlatformURL: URL(jobID), PlatformVideoID: jobID.String()},
	}
}

// Failed is a script that uploads partway then fails with code.
func Failed(code models.ErrorCode, msg string) []models.ProgressEvent {
	return []models.ProgressEvent{
		{Status: models.JobStatusUploading, Progress: 25},
		{Status: models.JobStatusFailed, ErrorCode: code, ErrorMessage: msg},
	}
}

// Emit sends events on a new channel and closes it. It stops early if ctx
// is cancelled.
func Emit(ctx context.Context, events ...models.ProgressEvent) <-chan models.ProgressEvent {
	ch := make(chan models.ProgressEvent)
	go func() {
		defer close(ch)
		for _, e := range events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// NewAdapter returns an Adapter that publishes every request successfully.
func NewAdapter(p models.Platform) *Adapter {
	return &Adapter{Name: p, Cost: 1600}
}

// NewFailingAdapter returns an Adapter whose Upload always returns err
// without emitting anything.
func NewFailingAdapter(p models.Platform, err error) *Adapter {
	return &Adapter{
		Name: p,
		Cost: 1600,
		UploadFunc: func(_ context.Context, _ models.PublishRequest) (<-chan models.ProgressEvent, error) {
			return nil, err
		},
	}
}

// NewScriptedAdapter plays scripts[attempt-1] for each attempt, repeating
// the last script once they run out.
func NewScriptedAdapter(p models.Platform, scripts ...func(jobID uuid.UUID) []models.ProgressEvent) *Adapter {
	return &Adapter{
		Name: p,
		Cost: 1600,
		UploadFunc: func(ctx context.Context, req models.PublishRequest) (<-chan models.ProgressEvent, error) {
			if len(scripts) == 0 {
				return Emit(ctx, Live(req.JobID)...), nil
			}
			i := req.Attempt - 1
			if i < 0 {
				i = 0
			}
			if i >= len(scripts) {
				i = len(scripts) - 1
			}
			return Emit(ctx, scripts[i](req.JobID)...), nil
		},
	}
}

// NewBlockingAdapter returns an Adapter that reports uploading at 5% and
// then holds the upload open until ctx is cancelled or release is closed,
// after which it goes live.
func NewBlockingAdapter(p models.Platform, release <-chan struct{}) *Adapter {
	return &Adapter{
		Name: p,
		Cost: 1600,
		UploadFunc: func(ctx context.Context, req models.PublishRequest) (<-chan models.ProgressEvent, error) {
			ch := make(chan models.ProgressEvent)
			go func() {
				defer close(ch)
				select {
				case ch <- models.ProgressEvent{Status: models.JobStatusUploading, Progress: 5}:
				case <-ctx.Done():
					return
				}
				select {
				case <-release:
				case <-ctx.Done():
					return
				}
				for _, e := range Live(req.JobID)[1:] {
					select {
					case ch <- e:
					case <-ctx.Done():
						return
					}
				}
			}()
			return ch, nil
		},
	}
}

// Compile-time checks.
var (
	_ models.PlatformAdapter = (*Adapter)(nil)
	_ platform.Aborter       = (*Adapter)(nil)
)
