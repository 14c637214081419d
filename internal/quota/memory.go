package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// MemoryTracker keeps ledgers in process. Each (client, platform) pair has
// its own lock, so unrelated clients never contend.
type MemoryTracker struct {
	ledgers sync.Map // ledgerKey -> *ledger
	limits  Limits
	opts    options
}

type ledgerKey struct {
	client   uuid.UUID
	platform models.Platform
}

type ledger struct {
	mu    sync.Mutex
	start time.Time
	used  int64
}

// NewMemoryTracker creates a MemoryTracker.
func NewMemoryTracker(limits Limits, opts ...Option) *MemoryTracker {
	return &MemoryTracker{limits: limits, opts: resolve(opts)}
}

func (t *MemoryTracker) ledger(clientID uuid.UUID, platform models.Platform) *ledger {
	l, _ := t.ledgers.LoadOrStore(ledgerKey{clientID, platform}, &ledger{})
	return l.(*ledger)
}

// roll resets l if its window has passed. Callers hold l.mu.
func (l *ledger) roll(start time.Time) {
	if !l.start.Equal(start) {
		l.start = start
		l.used = 0
	}
}

func (t *MemoryTracker) CheckAndReserve(_ context.Context, clientID uuid.UUID, platform models.Platform, cost int64) (Reservation, models.QuotaUsage, error) {
	start, end := Window(t.opts.now(), t.opts.loc)
	ceiling := t.limits[platform]
	l := t.ledger(clientID, platform)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(start)
	if l.used+cost > ceiling {
		usage := models.NewQuotaUsage(clientID, platform, l.used, ceiling, start, end)
		return Reservation{}, usage, fmt.Errorf("%w: %d of %d units used, %d requested", ErrExceeded, l.used, ceiling, cost)
	}
	l.used += cost
	return Reservation{ClientID: clientID, Platform: platform, Cost: cost, WindowStart: start},
		models.NewQuotaUsage(clientID, platform, l.used, ceiling, start, end), nil
}

func (t *MemoryTracker) Release(_ context.Context, r Reservation) error {
	if r.Cost <= 0 {
		return nil
	}
	l := t.ledger(r.ClientID, r.Platform)
	l.mu.Lock()
	defer l.mu.Unlock()
	// A reservation from a window that already rolled over has nothing to restore.
	if !l.start.Equal(r.WindowStart) {
		return nil
	}
	l.used -= r.Cost
	if l.used < 0 {
		l.used = 0
	}
	return nil
}

func (t *MemoryTracker) Usage(_ context.Context, clientID uuid.UUID, platform models.Platform) (models.QuotaUsage, error) {
	start, end := Window(t.opts.now(), t.opts.loc)
	l := t.ledger(clientID, platform)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(start)
	return models.NewQuotaUsage(clientID, platform, l.used, t.limits[platform], start, end), nil
}
