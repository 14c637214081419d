// Package quota tracks per-client platform API budgets.
//
// A ledger exists per (client, platform, window). Windows are calendar days
// in a configured timezone and roll over lazily: the window is recomputed
// from the clock on every access and a ledger from an earlier window is
// simply never read again.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// ErrExceeded is returned when a reservation would take used past max.
var ErrExceeded = errors.New("quota exceeded")

// Tracker reserves and releases platform cost units.
type Tracker interface {
	// CheckAndReserve atomically adds cost to the current window's ledger if
	// the result stays within the ceiling. On ErrExceeded nothing changes and
	// the returned usage describes the ledger as it stands.
	CheckAndReserve(ctx context.Context, clientID uuid.UUID, platform models.Platform, cost int64) (Reservation, models.QuotaUsage, error)
	// Release returns a reservation's units to the window it was taken from.
	Release(ctx context.Context, r Reservation) error
	Usage(ctx context.Context, clientID uuid.UUID, platform models.Platform) (models.QuotaUsage, error)
}

// Reservation identifies units taken from one ledger.
type Reservation struct {
	ClientID    uuid.UUID
	Platform    models.Platform
	Cost        int64
	WindowStart time.Time
}

// Limits maps a platform to its per-window ceiling in cost units.
type Limits map[models.Platform]int64

// Window returns the start and end of the budget window containing now.
func Window(now time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start, end
}

// windowID is the ledger suffix for a window start.
func windowID(start time.Time) string {
	return start.Format("20060102")
}

type options struct {
	now func() time.Time
	loc *time.Location
}

// Option configures a Tracker.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the timezone whose midnight starts a window.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func resolve(opts []Option) options {
	o := options{now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
