package publish

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/quota"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// dispatch starts the driver for a job's current attempt unless one is
// already running. A finished attempt may still be unwinding when its
// retry is dispatched; its entry is simply replaced.
func (o *Orchestrator) dispatch(job *models.PublishJob, adapter models.PlatformAdapter, res quota.Reservation) {
	o.mu.Lock()
	if d, running := o.drivers[job.ID]; running && d.attempt == job.AttemptCount {
		o.mu.Unlock()
		o.logger.Warn("driver already running", "job_id", job.ID, "attempt", job.AttemptCount)
		return
	}
	ctx, cancel := context.WithCancel(o.base)
	o.drivers[job.ID] = driver{attempt: job.AttemptCount, cancel: cancel}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.drive(ctx, cancel, job.ID, job.AttemptCount, adapter, res)
}

// stopDriver cancels a job's driver if one is running.
func (o *Orchestrator) stopDriver(jobID uuid.UUID) bool {
	o.mu.Lock()
	d, ok := o.drivers[jobID]
	o.mu.Unlock()
	if ok {
		d.cancel()
	}
	return ok
}

// Running reports how many drivers are active.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.drivers)
}

// drive runs one attempt of a job: it calls the adapter and writes every
// signal it emits to the store, in order, until a terminal signal, a
// cancellation, or a rejected transition.
func (o *Orchestrator) drive(ctx context.Context, cancel context.CancelFunc, jobID uuid.UUID, attempt int, adapter models.PlatformAdapter, res quota.Reservation) {
	p := adapter.Platform()
	o.metrics.DriverStarted(ctx, p)
	defer func() {
		o.mu.Lock()
		if d, ok := o.drivers[jobID]; ok && d.attempt == attempt {
			delete(o.drivers, jobID)
		}
		o.mu.Unlock()
		cancel()
		o.metrics.DriverStopped(context.Background(), p)
		o.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in publish driver", "job_id", jobID, "platform", p, "error", r, "stack", string(debug.Stack()))
			o.fail(jobID, attempt, models.ErrorCodePermanent, fmt.Sprintf("internal error: %v", r))
		}
	}()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("loading job for driver", "job_id", jobID, "error", err)
		o.release(res)
		return
	}
	if job.Status != models.JobStatusPending || job.AttemptCount != attempt {
		// Cancelled before the adapter was called.
		o.logger.Info("job left pending before upload started", "job_id", jobID, "status", job.Status)
		o.release(res)
		return
	}

	req, err := o.buildRequest(ctx, job)
	if err != nil {
		o.release(res)
		o.fail(jobID, attempt, models.ErrorCodePermanent, err.Error())
		return
	}

	events, err := adapter.Upload(ctx, req)
	if err != nil {
		// Nothing reached the platform.
		o.release(res)
		if ctx.Err() == nil {
			o.fail(jobID, attempt, platform.Classify(err), err.Error())
		}
		return
	}

	job, err = o.apply(jobID, models.JobStatusUploading, store.WithProgress(0), store.WithNote("upload accepted"), store.ForAttempt(attempt))
	if err != nil {
		cancel()
		drain(events)
		return
	}

	for ev := range events {
		next, stop := o.applyEvent(job, ev)
		if stop {
			cancel()
			drain(events)
			return
		}
		if next != nil {
			job = next
		}
		if ev.Terminal() {
			drain(events)
			return
		}
	}

	if ctx.Err() != nil {
		// Cancelled or shutting down; Cancel or the sweeper owns the job now.
		return
	}
	o.fail(jobID, attempt, models.ErrorCodeTransient, "platform adapter stopped without a result")
}

// applyEvent writes one adapter signal. It returns the updated job, and
// stop=true when the driver must not apply anything further.
func (o *Orchestrator) applyEvent(job *models.PublishJob, ev models.ProgressEvent) (*models.PublishJob, bool) {
	switch ev.Status {
	case models.JobStatusUploading, models.JobStatusProcessing:
		next, err := o.apply(job.ID, ev.Status, store.WithProgress(ev.Progress), store.ForAttempt(job.AttemptCount))
		if errors.Is(err, store.ErrInvalidTransition) {
			return o.outOfOrder(job, ev)
		}
		return next, err != nil

	case models.JobStatusLive:
		if ev.PlatformURL == "" {
			o.fail(job.ID, job.AttemptCount, models.ErrorCodePermanent, "platform reported live without a URL")
			return nil, true
		}
		if job.Status == models.JobStatusUploading {
			// The adapter skipped the processing signal.
			next, err := o.apply(job.ID, models.JobStatusProcessing, store.WithProgress(job.Progress), store.ForAttempt(job.AttemptCount))
			if err != nil {
				return nil, true
			}
			job = next
		}
		next, err := o.apply(job.ID, models.JobStatusLive, store.WithPlatformResult(ev.PlatformURL, ev.PlatformVideoID), store.ForAttempt(job.AttemptCount))
		if err != nil {
			return nil, true
		}
		return next, false

	case models.JobStatusFailed:
		code := ev.ErrorCode
		switch code {
		case models.ErrorCodeTransient, models.ErrorCodePermanent, models.ErrorCodeTimeout, models.ErrorCodePrecondition:
		default:
			code = models.ErrorCodePermanent
		}
		msg := ev.ErrorMessage
		if msg == "" {
			msg = "platform reported failure"
		}
		o.fail(job.ID, job.AttemptCount, code, msg)
		return nil, true

	default:
		o.logger.Warn("ignoring adapter signal", "job_id", job.ID, "status", ev.Status)
		return nil, false
	}
}

// outOfOrder handles a signal the state machine refused. If the job has
// since left flight the driver stops; otherwise the signal is dropped.
func (o *Orchestrator) outOfOrder(job *models.PublishJob, ev models.ProgressEvent) (*models.PublishJob, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.writeTimeout)
	defer cancel()
	current, err := o.store.GetJob(ctx, job.ID)
	if err != nil || !current.Status.InFlight() || current.AttemptCount != job.AttemptCount {
		return nil, true
	}
	o.logger.Warn("dropping out-of-order adapter signal",
		"job_id", job.ID, "status", current.Status, "signal", ev.Status)
	return current, false
}

// apply runs one transition on behalf of a driver. Writes use their own
// context so a cancelled driver still records what it already observed.
func (o *Orchestrator) apply(jobID uuid.UUID, to models.JobStatus, opts ...store.JobUpdateOption) (*models.PublishJob, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.writeTimeout)
	defer cancel()
	job, err := o.store.TransitionJob(ctx, jobID, to, opts...)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			o.logger.Info("job transition rejected", "job_id", jobID, "status", to, "error", err)
		} else {
			o.logger.Error("job transition failed", "job_id", jobID, "status", to, "error", err)
		}
		return nil, err
	}
	o.metrics.Transition(ctx, job)
	o.logger.Info("job transitioned",
		"job_id", job.ID, "platform", job.Platform, "status", job.Status, "progress", job.Progress)
	return job, nil
}

func (o *Orchestrator) fail(jobID uuid.UUID, attempt int, code models.ErrorCode, msg string) {
	job, err := o.apply(jobID, models.JobStatusFailed, store.WithError(code, msg), store.ForAttempt(attempt))
	if err != nil {
		return
	}
	o.logger.Warn("publish job failed",
		"job_id", job.ID, "platform", job.Platform, "error_code", code, "error", msg, "attempt", job.AttemptCount)
}

func (o *Orchestrator) buildRequest(ctx context.Context, job *models.PublishJob) (models.PublishRequest, error) {
	video, err := o.resolveAsset(ctx, job.ClientID, job.VideoAssetID)
	if err != nil {
		return models.PublishRequest{}, fmt.Errorf("video asset %s: %w", job.VideoAssetID, err)
	}
	var thumb *models.Asset
	if job.ThumbnailAssetID != nil {
		thumb, err = o.resolveAsset(ctx, job.ClientID, *job.ThumbnailAssetID)
		if err != nil {
			return models.PublishRequest{}, fmt.Errorf("thumbnail asset %s: %w", *job.ThumbnailAssetID, err)
		}
	}
	return publishRequest(job, *video, thumb), nil
}

// drain discards whatever an adapter still sends so its goroutine can exit.
func drain(events <-chan models.ProgressEvent) {
	go func() {
		for range events {
		}
	}()
}
