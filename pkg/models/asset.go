package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset is produced media owned by the asset library. Publishing only reads it.
type Asset struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	ClientID        uuid.UUID `db:"client_id"        json:"client_id"`
	Kind            string    `db:"kind"             json:"kind"`
	ByteLocation    string    `db:"byte_location"    json:"byte_location"`
	ContentType     string    `db:"content_type"     json:"content_type"`
	SizeBytes       int64     `db:"size_bytes"       json:"size_bytes"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// PlatformConnection is a delegated-access grant for one client on one platform.
// Grants are created and refreshed by the connections flow, not by publishing.
type PlatformConnection struct {
	ClientID    uuid.UUID  `db:"client_id"    json:"client_id"`
	Platform    Platform   `db:"platform"     json:"platform"`
	AccessToken string     `db:"access_token" json:"-"`
	ChannelID   string     `db:"channel_id"   json:"channel_id"`
	ExpiresAt   *time.Time `db:"expires_at"   json:"expires_at,omitempty"`
	RevokedAt   *time.Time `db:"revoked_at"   json:"-"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// Usable reports whether the grant can be used at now.
func (c *PlatformConnection) Usable(now time.Time) bool {
	if c == nil || c.RevokedAt != nil || c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}
