package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[models.JobStatus][]models.JobStatus{
		models.JobStatusPending:    {models.JobStatusFailed},
		models.JobStatusUploading:  {models.JobStatusPending, models.JobStatusUploading},
		models.JobStatusProcessing: {models.JobStatusUploading, models.JobStatusProcessing},
		models.JobStatusLive:       {models.JobStatusProcessing},
		models.JobStatusFailed:     {models.JobStatusPending, models.JobStatusUploading, models.JobStatusProcessing},
		models.JobStatusCancelled:  {models.JobStatusPending, models.JobStatusUploading},
	}
	all := []models.JobStatus{
		models.JobStatusPending, models.JobStatusUploading, models.JobStatusProcessing,
		models.JobStatusLive, models.JobStatusFailed, models.JobStatusCancelled,
	}
	for _, to := range all {
		for _, from := range all {
			want := false
			for _, s := range allowed[to] {
				if s == from {
					want = true
				}
			}
			assert.Equal(t, want, models.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusClasses(t *testing.T) {
	for _, s := range models.InFlightStatuses {
		assert.True(t, s.InFlight(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []models.JobStatus{models.JobStatusLive, models.JobStatusFailed, models.JobStatusCancelled} {
		assert.False(t, s.InFlight(), s)
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, models.JobStatus("queued").Valid())
	assert.False(t, models.Platform("myspace").Valid())
	assert.False(t, models.PrivacyStatus("friends").Valid())
}

func TestNewQuotaUsage(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	client := uuid.New()

	tests := []struct {
		name      string
		used, max int64
		remaining int64
		percent   float64
		level     models.QuotaLevel
	}{
		{"empty", 0, 10000, 10000, 0, models.QuotaLevelNormal},
		{"warning at 80", 1600, 2000, 400, 80, models.QuotaLevelWarning},
		{"critical at 95", 9500, 10000, 500, 95, models.QuotaLevelCritical},
		{"over budget clamps remaining", 12000, 10000, 0, 120, models.QuotaLevelCritical},
		{"zero budget with use", 5, 0, 0, 100, models.QuotaLevelCritical},
		{"zero budget unused", 0, 0, 0, 0, models.QuotaLevelNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := models.NewQuotaUsage(client, models.PlatformYouTube, tt.used, tt.max, start, end)
			assert.Equal(t, tt.remaining, u.Remaining)
			assert.InDelta(t, tt.percent, u.PercentUsed, 0.001)
			assert.Equal(t, tt.level, u.Level)
			assert.Equal(t, end, u.ResetsAt)
		})
	}
}

func TestPublishJobClone(t *testing.T) {
	url := "https://youtu.be/x"
	thumb := uuid.New()
	j := &models.PublishJob{ID: uuid.New(), Tags: []string{"a"}, PlatformURL: &url, ThumbnailAssetID: &thumb}

	c := j.Clone()
	require.NotSame(t, j, c)
	c.Tags[0] = "b"
	*c.PlatformURL = "changed"
	*c.ThumbnailAssetID = uuid.New()

	assert.Equal(t, "a", j.Tags[0])
	assert.Equal(t, "https://youtu.be/x", *j.PlatformURL)
	assert.Equal(t, thumb, *j.ThumbnailAssetID)
	assert.Nil(t, (*models.PublishJob)(nil).Clone())
}

func TestPlatformConnectionUsable(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	assert.True(t, (&models.PlatformConnection{AccessToken: "t"}).Usable(now))
	assert.True(t, (&models.PlatformConnection{AccessToken: "t", ExpiresAt: &future}).Usable(now))
	assert.False(t, (&models.PlatformConnection{AccessToken: "t", ExpiresAt: &past}).Usable(now))
	assert.False(t, (&models.PlatformConnection{AccessToken: "t", RevokedAt: &past}).Usable(now))
	assert.False(t, (&models.PlatformConnection{}).Usable(now))
	assert.False(t, (*models.PlatformConnection)(nil).Usable(now))
}

func TestProgressEventTerminal(t *testing.T) {
	assert.True(t, models.ProgressEvent{Status: models.JobStatusLive}.Terminal())
	assert.True(t, models.ProgressEvent{Status: models.JobStatusFailed}.Terminal())
	assert.False(t, models.ProgressEvent{Status: models.JobStatusProcessing}.Terminal())
}
