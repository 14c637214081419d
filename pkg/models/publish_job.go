// Package models contains shared data models used across the publishq codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies an external video platform.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every platform a job may target.
var Platforms = []Platform{PlatformYouTube, PlatformTikTok, PlatformInstagram}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a PublishJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusLive       JobStatus = "live"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusUploading, JobStatusProcessing,
		JobStatusLive, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// InFlight reports whether a job in this status is still being worked on.
// At most one in-flight job may exist per (submission, platform).
func (s JobStatus) InFlight() bool {
	return s == JobStatusPending || s == JobStatusUploading || s == JobStatusProcessing
}

// Terminal reports whether no further automatic transition happens.
// Failed is terminal but can re-enter pending through an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusLive || s == JobStatusFailed || s == JobStatusCancelled
}

// InFlightStatuses lists the non-terminal statuses.
var InFlightStatuses = []JobStatus{JobStatusPending, JobStatusUploading, JobStatusProcessing}

// transitions maps a target status to the statuses it may be entered from.
// Self-edges on uploading/processing carry progress updates.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusFailed},
	JobStatusUploading:  {JobStatusPending, JobStatusUploading},
	JobStatusProcessing: {JobStatusUploading, JobStatusProcessing},
	JobStatusLive:       {JobStatusProcessing},
	JobStatusFailed:     {JobStatusPending, JobStatusUploading, JobStatusProcessing},
	JobStatusCancelled:  {JobStatusPending, JobStatusUploading},
}

// AllowedFrom returns the statuses from which to may be entered.
func AllowedFrom(to JobStatus) []JobStatus {
	return transitions[to]
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// PrivacyStatus is the requested visibility of a published video.
type PrivacyStatus string

const (
	PrivacyPublic   PrivacyStatus = "public"
	PrivacyUnlisted PrivacyStatus = "unlisted"
	PrivacyPrivate  PrivacyStatus = "private"
)

// Valid reports whether p is a known privacy status.
func (p PrivacyStatus) Valid() bool {
	return p == PrivacyPublic || p == PrivacyUnlisted || p == PrivacyPrivate
}

// ErrorCode classifies why a job ended in failed.
type ErrorCode string

const (
	ErrorCodePrecondition ErrorCode = "precondition"
	ErrorCodeTransient    ErrorCode = "transient"
	ErrorCodePermanent    ErrorCode = "permanent"
	ErrorCodeTimeout      ErrorCode = "timeout"
)

// PublishJob is one tracked attempt to publish an asset to a platform.
// The API returns the job id on POST /api/v1/publish; the caller polls
// GET /api/v1/jobs/{job_id} until the status is terminal.
type PublishJob struct {
	ID                 uuid.UUID     `db:"id"                   json:"id"`
	ClientID           uuid.UUID     `db:"client_id"            json:"client_id"`
	SubmissionID       uuid.UUID     `db:"submission_id"        json:"submission_id"`
	Platform           Platform      `db:"platform"             json:"platform"`
	VideoAssetID       uuid.UUID     `db:"video_asset_id"       json:"video_asset_id"`
	ThumbnailAssetID   *uuid.UUID    `db:"thumbnail_asset_id"   json:"thumbnail_asset_id,omitempty"`
	Title              string        `db:"title"                json:"title"`
	Description        string        `db:"description"          json:"description"`
	Tags               []string      `db:"tags"                 json:"tags"`
	PrivacyStatus      PrivacyStatus `db:"privacy_status"       json:"privacy_status"`
	ScheduledPublishAt *time.Time    `db:"scheduled_publish_at" json:"scheduled_publish_at,omitempty"`
	Status             JobStatus     `db:"status"               json:"status"`
	Progress           int           `db:"progress"             json:"progress"`
	PlatformURL        *string       `db:"platform_url"         json:"platform_url,omitempty"`
	PlatformVideoID    *string       `db:"platform_video_id"    json:"platform_video_id,omitempty"`
	ErrorCode          *ErrorCode    `db:"error_code"           json:"error_code,omitempty"`
	ErrorMessage       *string       `db:"error_message"        json:"error_message,omitempty"`
	AttemptCount       int           `db:"attempt_count"        json:"attempt_count"`
	QuotaCost          int64         `db:"quota_cost"           json:"quota_cost"`
	CreatedAt          time.Time     `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"           json:"updated_at"`
	PublishedAt        *time.Time    `db:"published_at"         json:"published_at,omitempty"`
}

// Clone returns a deep copy so callers never share mutable fields.
func (j *PublishJob) Clone() *PublishJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Tags = append([]string(nil), j.Tags...)
	c.ThumbnailAssetID = clonePtr(j.ThumbnailAssetID)
	c.ScheduledPublishAt = clonePtr(j.ScheduledPublishAt)
	c.PlatformURL = clonePtr(j.PlatformURL)
	c.PlatformVideoID = clonePtr(j.PlatformVideoID)
	c.ErrorCode = clonePtr(j.ErrorCode)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.PublishedAt = clonePtr(j.PublishedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
