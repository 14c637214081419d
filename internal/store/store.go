package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned when a write would leave two in-flight jobs for
// the same submission and platform.
var ErrConflict = errors.New("in-flight job already exists")

// ErrInvalidTransition is returned when a job is not in a status the
// requested transition may start from.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, clientID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, clientID uuid.UUID) error

	// Read-only lookups into tables owned by the rest of the dashboard.
	IsConnected(ctx context.Context, clientID uuid.UUID, platform models.Platform) (bool, error)
	GetPlatformConnection(ctx context.Context, clientID uuid.UUID, platform models.Platform) (*models.PlatformConnection, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	SubmissionExists(ctx context.Context, clientID, submissionID uuid.UUID) (bool, error)

	CreateJob(ctx context.Context, job *models.PublishJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.PublishJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.PublishJob, int, error)
	FindInFlightJob(ctx context.Context, submissionID uuid.UUID, platform models.Platform) (*models.PublishJob, error)
	ListStaleJobs(ctx context.Context, platform models.Platform, cutoff time.Time, limit int) ([]*models.PublishJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, to models.JobStatus, opts ...JobUpdateOption) (*models.PublishJob, error)
	ListJobEvents(ctx context.Context, jobID uuid.UUID) ([]*models.JobEvent, error)
}

// JobFilter narrows ListJobs. Zero-valued fields do not filter.
type JobFilter struct {
	ClientID *uuid.UUID
	Platform models.Platform
	Statuses []models.JobStatus
	Page     int
	Limit    int
}

// Normalize clamps pagination to sane bounds and returns limit and offset.
func (f JobFilter) Normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// JobUpdate is the resolved set of options for one TransitionJob call.
type JobUpdate struct {
	Progress        int
	PlatformURL     string
	PlatformVideoID string
	ErrorCode       models.ErrorCode
	ErrorMessage    string
	QuotaCost       *int64
	UpdatedBefore   *time.Time
	Attempt         int
	Note            string
}

type JobUpdateOption func(*JobUpdate)

// ResolveJobUpdate applies opts over an empty JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithProgress sets the progress percent; stores never let it go backwards.
func WithProgress(p int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Progress = p
	}
}

// WithPlatformResult records where the published video lives.
func WithPlatformResult(url, videoID string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.PlatformURL = url
		u.PlatformVideoID = videoID
	}
}

func WithError(code models.ErrorCode, msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorCode = code
		u.ErrorMessage = msg
	}
}

// WithQuotaCost records the units reserved for a new attempt.
func WithQuotaCost(cost int64) JobUpdateOption {
	return func(u *JobUpdate) {
		u.QuotaCost = &cost
	}
}

// IfUpdatedBefore makes the transition apply only if the job has not been
// touched since cutoff.
func IfUpdatedBefore(cutoff time.Time) JobUpdateOption {
	return func(u *JobUpdate) {
		u.UpdatedBefore = &cutoff
	}
}

// ForAttempt makes the transition apply only while the job is on the given
// attempt, so a driver from an earlier attempt cannot touch a retried job.
func ForAttempt(n int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Attempt = n
	}
}

// WithNote attaches a message to the recorded job event.
func WithNote(note string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Note = note
	}
}
