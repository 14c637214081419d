package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PlatformAdapter is the interface every platform integration implements.
// The orchestrator reaches platforms only through this interface.
type PlatformAdapter interface {
	// Platform returns the platform this adapter publishes to.
	Platform() Platform
	// UploadCost returns the quota units a publish of req consumes.
	UploadCost(req PublishRequest) int64
	// StaleThreshold is how long a job may go without a progress signal
	// before the sweeper fails it with a timeout.
	StaleThreshold() time.Duration
	// Upload starts publishing req. A nil error means the adapter accepted the
	// request; progress then arrives on the returned channel, which is closed
	// after exactly one terminal event (live or failed). An error means nothing
	// was sent to the platform.
	Upload(ctx context.Context, req PublishRequest) (<-chan ProgressEvent, error)
}

// PublishRequest is the platform-neutral payload an adapter publishes.
type PublishRequest struct {
	JobID              uuid.UUID
	ClientID           uuid.UUID
	Attempt            int
	Video              Asset
	Thumbnail          *Asset
	Title              string
	Description        string
	Tags               []string
	PrivacyStatus      PrivacyStatus
	ScheduledPublishAt *time.Time
}

// ProgressEvent is one signal from an adapter about an upload.
type ProgressEvent struct {
	Status          JobStatus
	Progress        int
	PlatformURL     string
	PlatformVideoID string
	ErrorCode       ErrorCode
	ErrorMessage    string
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status == JobStatusLive || e.Status == JobStatusFailed
}
