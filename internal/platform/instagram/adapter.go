package instagram

import (
	"context"
	"time"

	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Adapter is the Instagram integration. Publishing is not supported yet; every
// upload fails permanently without contacting Instagram.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Platform() models.Platform { return models.PlatformInstagram }

func (a *Adapter) UploadCost(_ models.PublishRequest) int64 { return 0 }

func (a *Adapter) StaleThreshold() time.Duration { return 30 * time.Minute }

func (a *Adapter) Upload(_ context.Context, _ models.PublishRequest) (<-chan models.ProgressEvent, error) {
	return nil, platform.Permanent("instagram publishing", platform.ErrNotImplemented)
}

var _ models.PlatformAdapter = (*Adapter)(nil)
