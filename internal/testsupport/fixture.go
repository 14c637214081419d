package testsupport

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Fixture is one client that owns a submission, a video and a thumbnail,
// and is connected to a platform.
type Fixture struct {
	ClientID     uuid.UUID
	SubmissionID uuid.UUID
	VideoID      uuid.UUID
	ThumbnailID  uuid.UUID
	Platform     models.Platform
}

// Seed registers a fresh Fixture for platform in s.
func Seed(s *MemoryStore, platform models.Platform) Fixture {
	f := Fixture{
		ClientID:     uuid.New(),
		SubmissionID: uuid.New(),
		VideoID:      uuid.New(),
		ThumbnailID:  uuid.New(),
		Platform:     platform,
	}
	now := time.Now().UTC()
	s.AddSubmission(f.ClientID, f.SubmissionID)
	s.AddAsset(models.Asset{
		ID: f.VideoID, ClientID: f.ClientID, Kind: "video",
		ByteLocation: "file:///srv/assets/" + f.VideoID.String() + ".mp4",
		ContentType:  "video/mp4", SizeBytes: 4 << 20, DurationSeconds: 61.5, CreatedAt: now,
	})
	s.AddAsset(models.Asset{
		ID: f.ThumbnailID, ClientID: f.ClientID, Kind: "thumbnail",
		ByteLocation: "file:///srv/assets/" + f.ThumbnailID.String() + ".jpg",
		ContentType:  "image/jpeg", SizeBytes: 64 << 10, CreatedAt: now,
	})
	s.Connect(f.ClientID, platform, "token-"+f.ClientID.String())
	return f
}

// NewSubmission registers another submission for the fixture's client.
func (f Fixture) NewSubmission(s *MemoryStore) uuid.UUID {
	id := uuid.New()
	s.AddSubmission(f.ClientID, id)
	return id
}
