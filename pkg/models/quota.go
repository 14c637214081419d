package models

import (
	"time"

	"github.com/google/uuid"
)

// QuotaLevel is a coarse indicator of how much of a budget window is spent.
type QuotaLevel string

const (
	QuotaLevelNormal   QuotaLevel = "normal"
	QuotaLevelWarning  QuotaLevel = "warning"
	QuotaLevelCritical QuotaLevel = "critical"
)

const (
	QuotaWarningPercent  = 80.0
	QuotaCriticalPercent = 95.0
)

// QuotaUsage is a read of one (client, platform, window) ledger.
type QuotaUsage struct {
	ClientID    uuid.UUID  `json:"client_id"`
	Platform    Platform   `json:"platform"`
	Used        int64      `json:"used"`
	Max         int64      `json:"max"`
	Remaining   int64      `json:"remaining"`
	PercentUsed float64    `json:"percent_used"`
	Level       QuotaLevel `json:"level"`
	WindowStart time.Time  `json:"window_start"`
	ResetsAt    time.Time  `json:"resets_at"`
}

// NewQuotaUsage fills the derived fields from used and max.
func NewQuotaUsage(clientID uuid.UUID, platform Platform, used, max int64, windowStart, resetsAt time.Time) QuotaUsage {
	u := QuotaUsage{
		ClientID:    clientID,
		Platform:    platform,
		Used:        used,
		Max:         max,
		WindowStart: windowStart,
		ResetsAt:    resetsAt,
	}
	u.Remaining = max - used
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	switch {
	case max > 0:
		u.PercentUsed = float64(used) * 100 / float64(max)
	case used > 0:
		u.PercentUsed = 100
	}
	u.Level = LevelFor(u.PercentUsed)
	return u
}

// LevelFor maps a percentage to its warning level.
func LevelFor(percent float64) QuotaLevel {
	switch {
	case percent >= QuotaCriticalPercent:
		return QuotaLevelCritical
	case percent >= QuotaWarningPercent:
		return QuotaLevelWarning
	default:
		return QuotaLevelNormal
	}
}
