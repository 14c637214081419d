package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// sweepBatch bounds how many stale jobs one pass fails per platform.
const sweepBatch = 100

// Sweeper fails in-flight jobs that have gone quiet for longer than their
// adapter's stale threshold. Adapters are never trusted to report their
// own timeouts.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
	fallback time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the orchestrator's store and adapters.
// fallback is used for adapters that report no stale threshold.
func NewSweeper(o *Orchestrator, interval, fallback time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if fallback <= 0 {
		fallback = 30 * time.Minute
	}
	return &Sweeper{
		orch:     o,
		interval: interval,
		fallback: fallback,
		logger:   o.logger.With("component", "sweeper"),
	}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce fails every stale job it finds and returns how many it failed.
// A job that reports progress between the scan and the write is left alone.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	o := s.orch
	swept := 0
	var errs []error
	for _, adapter := range o.adapters.Adapters() {
		p := adapter.Platform()
		threshold := adapter.StaleThreshold()
		if threshold <= 0 {
			threshold = s.fallback
		}
		cutoff := o.now().Add(-threshold)

		jobs, err := o.store.ListStaleJobs(ctx, p, cutoff, sweepBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing stale %s jobs: %w", p, err))
			continue
		}
		for _, job := range jobs {
			msg := fmt.Sprintf("no progress from %s for %s while %s", p, threshold, job.Status)
			failed, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed,
				store.WithError(models.ErrorCodeTimeout, msg), store.IfUpdatedBefore(cutoff))
			if errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("failing stale job %s: %w", job.ID, err))
				continue
			}
			o.stopDriver(job.ID)
			o.metrics.Transition(ctx, failed)
			o.metrics.Swept(ctx, p)
			s.logger.Warn("stale job timed out",
				"job_id", job.ID, "platform", p, "last_status", job.Status, "updated_at", job.UpdatedAt)
			swept++
		}
	}
	if swept > 0 {
		s.logger.Info("swept stale jobs", "count", swept)
	}
	return swept, errors.Join(errs...)
}
