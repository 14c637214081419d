// Package publish is the job orchestrator: it admits publish requests,
// drives each job through its platform adapter in the background, and
// serves the retry, cancel and query operations callers poll against.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/metrics"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/quota"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/kiranshivaraju/publishq/pkg/poll"
)

// Caller is the identity an operation runs as. Non-admin callers only see
// and act on their own client's jobs.
type Caller struct {
	ClientID uuid.UUID
	Admin    bool
}

// CanAccess reports whether the caller may act on clientID's resources.
func (c Caller) CanAccess(clientID uuid.UUID) bool {
	return c.Admin || (c.ClientID != uuid.Nil && c.ClientID == clientID)
}

// CreateRequest is a publish request as submitted by a caller.
type CreateRequest struct {
	ClientID           uuid.UUID            `json:"client_id"`
	SubmissionID       uuid.UUID            `json:"submission_id"`
	Platform           models.Platform      `json:"platform"`
	VideoAssetID       uuid.UUID            `json:"video_asset_id"`
	ThumbnailAssetID   *uuid.UUID           `json:"thumbnail_asset_id,omitempty"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	Tags               []string             `json:"tags"`
	PrivacyStatus      models.PrivacyStatus `json:"privacy_status"`
	ScheduledPublishAt *time.Time           `json:"scheduled_publish_at,omitempty"`
}

// Orchestrator owns the publish job lifecycle.
type Orchestrator struct {
	store    store.Store
	quota    quota.Tracker
	adapters *platform.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	writeTimeout time.Duration

	// base parents every driver; Close cancels it.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	drivers map[uuid.UUID]driver
}

// driver is the running attempt of a job.
type driver struct {
	attempt int
	cancel  context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithWriteTimeout bounds each store write made on behalf of a driver.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.writeTimeout = d }
}

// New creates an Orchestrator. Call Close to stop its drivers.
func New(st store.Store, tracker quota.Tracker, adapters *platform.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		quota:        tracker,
		adapters:     adapters,
		metrics:      metrics.NewNoop(),
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		writeTimeout: 10 * time.Second,
		drivers:      make(map[uuid.UUID]driver),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.base, o.stop = context.WithCancel(context.Background())
	return o
}

// Create admits a publish request. Validation failures and duplicate
// in-flight requests are returned as errors with no job recorded. A missing
// platform connection or an exhausted quota still records the job, already
// failed with error code precondition. Otherwise the job is returned
// pending and uploads in the background.
func (o *Orchestrator) Create(ctx context.Context, caller Caller, req CreateRequest) (*models.PublishJob, error) {
	if req.ClientID == uuid.Nil && !caller.Admin {
		req.ClientID = caller.ClientID
	}
	if req.PrivacyStatus == "" {
		req.PrivacyStatus = models.PrivacyPrivate
	}
	req.Title = strings.TrimSpace(req.Title)

	v := validation{}
	if req.ClientID == uuid.Nil {
		v.add("client_id", "is required")
	}
	if req.SubmissionID == uuid.Nil {
		v.add("submission_id", "is required")
	}
	if req.VideoAssetID == uuid.Nil {
		v.add("video_asset_id", "is required")
	}
	if req.Title == "" {
		v.add("title", "is required")
	}
	if !req.PrivacyStatus.Valid() {
		v.add("privacy_status", "must be one of public, unlisted, private")
	}
	var adapter models.PlatformAdapter
	if !req.Platform.Valid() {
		v.add("platform", "must be one of youtube, tiktok, instagram")
	} else if a, err := o.adapters.Get(req.Platform); err != nil {
		v.add("platform", "is not enabled")
	} else {
		adapter = a
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	if !caller.CanAccess(req.ClientID) {
		return nil, fmt.Errorf("%w: cannot publish for client %s", ErrForbidden, req.ClientID)
	}

	ok, err := o.store.SubmissionExists(ctx, req.ClientID, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("checking submission: %w", err)
	}
	if !ok {
		v.add("submission_id", "does not exist")
	}
	video, err := o.resolveAsset(ctx, req.ClientID, req.VideoAssetID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		v.add("video_asset_id", "does not exist")
	}
	var thumb *models.Asset
	if req.ThumbnailAssetID != nil {
		thumb, err = o.resolveAsset(ctx, req.ClientID, *req.ThumbnailAssetID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			v.add("thumbnail_asset_id", "does not exist")
		}
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	existing, err := o.store.FindInFlightJob(ctx, req.SubmissionID, req.Platform)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: job %s is already %s", ErrConflict, existing.ID, existing.Status)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("checking in-flight jobs: %w", err)
	}

	now := o.now()
	job := &models.PublishJob{
		ID:                 uuid.New(),
		ClientID:           req.ClientID,
		SubmissionID:       req.SubmissionID,
		Platform:           req.Platform,
		VideoAssetID:       req.VideoAssetID,
		ThumbnailAssetID:   req.ThumbnailAssetID,
		Title:              req.Title,
		Description:        req.Description,
		Tags:               append([]string{}, req.Tags...),
		PrivacyStatus:      req.PrivacyStatus,
		ScheduledPublishAt: req.ScheduledPublishAt,
		Status:             models.JobStatusPending,
		AttemptCount:       1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	connected, err := o.store.IsConnected(ctx, req.ClientID, req.Platform)
	if err != nil {
		return nil, fmt.Errorf("checking platform connection: %w", err)
	}
	if !connected {
		return o.createFailed(ctx, job, fmt.Sprintf("no usable %s connection for client", req.Platform))
	}

	cost := adapter.UploadCost(publishRequest(job, *video, thumb))
	res, usage, err := o.quota.CheckAndReserve(ctx, req.ClientID, req.Platform, cost)
	if errors.Is(err, quota.ErrExceeded) {
		o.metrics.QuotaRejected(ctx, req.Platform)
		return o.createFailed(ctx, job, quotaMessage(cost, usage))
	}
	if err != nil {
		return nil, fmt.Errorf("reserving quota: %w", err)
	}

	job.QuotaCost = cost
	if err := o.store.CreateJob(ctx, job); err != nil {
		o.release(res)
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: submission %s already has an in-flight %s job", ErrConflict, req.SubmissionID, req.Platform)
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	o.metrics.JobCreated(ctx, job)
	o.logger.Info("publish job created",
		"job_id", job.ID, "client_id", job.ClientID, "platform", job.Platform, "quota_cost", cost)

	o.dispatch(job, adapter, res)
	return job, nil
}

// createFailed records a job that failed admission so the attempt is auditable.
func (o *Orchestrator) createFailed(ctx context.Context, job *models.PublishJob, msg string) (*models.PublishJob, error) {
	code := models.ErrorCodePrecondition
	job.Status = models.JobStatusFailed
	job.ErrorCode = &code
	job.ErrorMessage = &msg
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	o.metrics.JobCreated(ctx, job)
	o.logger.Warn("publish job rejected by precondition",
		"job_id", job.ID, "client_id", job.ClientID, "platform", job.Platform, "error", msg)
	return job, nil
}

// Retry puts a failed job back to pending as a new attempt. Connection and
// quota are checked again; if either fails the job goes straight back to
// failed with error code precondition and is returned without error.
func (o *Orchestrator) Retry(ctx context.Context, caller Caller, jobID uuid.UUID) (*models.PublishJob, error) {
	job, err := o.Get(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status.InFlight():
		return nil, fmt.Errorf("%w: job %s is already %s", ErrConflict, job.ID, job.Status)
	case job.Status != models.JobStatusFailed:
		return nil, fmt.Errorf("%w: cannot retry a %s job", ErrInvalidState, job.Status)
	}
	adapter, err := o.adapters.Get(job.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	cost := adapter.UploadCost(costRequest(job))
	job, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusPending,
		store.WithQuotaCost(cost), store.WithNote("retry requested"))
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, fmt.Errorf("%w: job %s was retried concurrently", ErrConflict, jobID)
	case errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("%w: another job for this submission is in flight", ErrConflict)
	case err != nil:
		return nil, fmt.Errorf("resetting job: %w", err)
	}
	o.metrics.Transition(ctx, job)
	o.logger.Info("publish job retried", "job_id", job.ID, "platform", job.Platform, "attempt", job.AttemptCount)

	connected, err := o.store.IsConnected(ctx, job.ClientID, job.Platform)
	if err != nil {
		return o.failNow(ctx, job, models.ErrorCodeTransient, fmt.Sprintf("checking platform connection: %v", err))
	}
	if !connected {
		return o.failNow(ctx, job, models.ErrorCodePrecondition, fmt.Sprintf("no usable %s connection for client", job.Platform))
	}
	res, usage, err := o.quota.CheckAndReserve(ctx, job.ClientID, job.Platform, cost)
	if errors.Is(err, quota.ErrExceeded) {
		o.metrics.QuotaRejected(ctx, job.Platform)
		return o.failNow(ctx, job, models.ErrorCodePrecondition, quotaMessage(cost, usage))
	}
	if err != nil {
		return o.failNow(ctx, job, models.ErrorCodeTransient, fmt.Sprintf("reserving quota: %v", err))
	}

	o.dispatch(job, adapter, res)
	return job, nil
}

// failNow fails a pending job during admission and returns it.
func (o *Orchestrator) failNow(ctx context.Context, job *models.PublishJob, code models.ErrorCode, msg string) (*models.PublishJob, error) {
	failed, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed, store.WithError(code, msg))
	if err != nil {
		return nil, fmt.Errorf("failing job: %w", err)
	}
	o.metrics.Transition(ctx, failed)
	o.logger.Warn("publish job failed", "job_id", job.ID, "platform", job.Platform, "error_code", code, "error", msg)
	return failed, nil
}

// Cancel marks a pending or uploading job cancelled and stops its driver.
// Adapters that implement platform.Aborter are asked to abort the
// platform-side upload; others may still finish it there.
func (o *Orchestrator) Cancel(ctx context.Context, caller Caller, jobID uuid.UUID) (*models.PublishJob, error) {
	job, err := o.Get(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	cancelled, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusCancelled, store.WithNote("cancelled by request"))
	if errors.Is(err, store.ErrInvalidTransition) {
		current, gerr := o.store.GetJob(ctx, job.ID)
		if gerr == nil {
			job = current
		}
		return nil, fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidState, job.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
	o.metrics.Transition(ctx, cancelled)
	o.logger.Info("publish job cancelled", "job_id", job.ID, "platform", job.Platform, "previous_status", job.Status)

	o.stopDriver(job.ID)
	if adapter, err := o.adapters.Get(job.Platform); err == nil {
		if ab, ok := adapter.(platform.Aborter); ok {
			if err := ab.Abort(ctx, job.ID); err != nil {
				o.logger.Warn("adapter abort failed", "job_id", job.ID, "platform", job.Platform, "error", err)
			}
		}
	}
	return cancelled, nil
}

// Get returns a job the caller may see.
func (o *Orchestrator) Get(ctx context.Context, caller Caller, jobID uuid.UUID) (*models.PublishJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if !caller.CanAccess(job.ClientID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job, nil
}

// List returns one page of jobs and the total match count. Non-admin callers
// are always scoped to their own client.
func (o *Orchestrator) List(ctx context.Context, caller Caller, filter store.JobFilter) ([]*models.PublishJob, int, error) {
	if !caller.Admin {
		id := caller.ClientID
		if filter.ClientID != nil && *filter.ClientID != id {
			return nil, 0, fmt.Errorf("%w: cannot list jobs for client %s", ErrForbidden, *filter.ClientID)
		}
		filter.ClientID = &id
	}
	if filter.Platform != "" && !filter.Platform.Valid() {
		return nil, 0, &ValidationError{Fields: map[string]string{"platform": "must be one of youtube, tiktok, instagram"}}
	}
	for _, s := range filter.Statuses {
		if !s.Valid() {
			return nil, 0, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", s)}}
		}
	}
	jobs, total, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// Events returns the ordered signal history of a job.
func (o *Orchestrator) Events(ctx context.Context, caller Caller, jobID uuid.UUID) ([]*models.JobEvent, error) {
	if _, err := o.Get(ctx, caller, jobID); err != nil {
		return nil, err
	}
	events, err := o.store.ListJobEvents(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing job events: %w", err)
	}
	return events, nil
}

// Quota reads the current budget window for a client and platform.
func (o *Orchestrator) Quota(ctx context.Context, caller Caller, clientID uuid.UUID, p models.Platform) (models.QuotaUsage, error) {
	if clientID == uuid.Nil && !caller.Admin {
		clientID = caller.ClientID
	}
	v := validation{}
	if clientID == uuid.Nil {
		v.add("client_id", "is required")
	}
	if !p.Valid() {
		v.add("platform", "must be one of youtube, tiktok, instagram")
	}
	if err := v.err(); err != nil {
		return models.QuotaUsage{}, err
	}
	if !caller.CanAccess(clientID) {
		return models.QuotaUsage{}, fmt.Errorf("%w: cannot read quota for client %s", ErrForbidden, clientID)
	}
	usage, err := o.quota.Usage(ctx, clientID, p)
	if err != nil {
		return models.QuotaUsage{}, fmt.Errorf("reading quota: %w", err)
	}
	return usage, nil
}

// Wait polls a job every interval until it reaches a terminal status or
// ctx ends. onChange, if set, sees each distinct status or progress.
func (o *Orchestrator) Wait(ctx context.Context, caller Caller, jobID uuid.UUID, interval time.Duration, onChange func(*models.PublishJob)) (*models.PublishJob, error) {
	return poll.UntilTerminal(ctx, interval, func(ctx context.Context) (*models.PublishJob, error) {
		return o.Get(ctx, caller, jobID)
	}, onChange)
}

// Close cancels every running driver and waits for them to return, or for
// ctx to end. Jobs they leave in flight are later failed by the sweeper.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for drivers: %w", ctx.Err())
	}
}

func (o *Orchestrator) resolveAsset(ctx context.Context, clientID, id uuid.UUID) (*models.Asset, error) {
	a, err := o.store.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving asset %s: %w", id, err)
	}
	if a.ClientID != clientID {
		return nil, store.ErrNotFound
	}
	return a, nil
}

// release returns a reservation outside any request context.
func (o *Orchestrator) release(res quota.Reservation) {
	if res.Cost == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.writeTimeout)
	defer cancel()
	if err := o.quota.Release(ctx, res); err != nil {
		o.logger.Error("releasing quota reservation failed",
			"client_id", res.ClientID, "platform", res.Platform, "cost", res.Cost, "error", err)
	}
}

func publishRequest(job *models.PublishJob, video models.Asset, thumb *models.Asset) models.PublishRequest {
	return models.PublishRequest{
		JobID:              job.ID,
		ClientID:           job.ClientID,
		Attempt:            job.AttemptCount,
		Video:              video,
		Thumbnail:          thumb,
		Title:              job.Title,
		Description:        job.Description,
		Tags:               append([]string(nil), job.Tags...),
		PrivacyStatus:      job.PrivacyStatus,
		ScheduledPublishAt: job.ScheduledPublishAt,
	}
}

// costRequest is enough of a request for UploadCost, which only looks at
// which operations will run.
func costRequest(job *models.PublishJob) models.PublishRequest {
	var thumb *models.Asset
	if job.ThumbnailAssetID != nil {
		thumb = &models.Asset{ID: *job.ThumbnailAssetID}
	}
	return publishRequest(job, models.Asset{ID: job.VideoAssetID}, thumb)
}

func quotaMessage(cost int64, u models.QuotaUsage) string {
	return fmt.Sprintf("%s quota exhausted: %d of %d units used, publish needs %d, resets at %s",
		u.Platform, u.Used, u.Max, cost, u.ResetsAt.Format(time.RFC3339))
}
