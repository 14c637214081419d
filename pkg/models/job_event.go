package models

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent records one signal applied to a job, in the order it was applied.
type JobEvent struct {
	JobID     uuid.UUID  `db:"job_id"     json:"job_id"`
	Seq       int64      `db:"seq"        json:"seq"`
	Attempt   int        `db:"attempt"    json:"attempt"`
	Status    JobStatus  `db:"status"     json:"status"`
	Progress  int        `db:"progress"   json:"progress"`
	ErrorCode *ErrorCode `db:"error_code" json:"error_code,omitempty"`
	Message   *string    `db:"message"    json:"message,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
