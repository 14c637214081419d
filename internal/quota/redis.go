package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/cache"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/redis/go-redis/v9"
)

// reserveScript checks and increments in one step.
// KEYS[1] ledger, ARGV[1] cost, ARGV[2] max, ARGV[3] ttl (ms).
// Returns {reserved (0|1), used}.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local cost = tonumber(ARGV[1])
if used + cost > tonumber(ARGV[2]) then
  return {0, used}
end
used = redis.call('INCRBY', KEYS[1], cost)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, used}
`)

// releaseScript decrements without going below zero.
// KEYS[1] ledger, ARGV[1] cost. Returns the new used value.
var releaseScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used == 0 then
  return 0
end
local left = used - tonumber(ARGV[1])
if left < 0 then
  left = 0
end
redis.call('SET', KEYS[1], left, 'KEEPTTL')
return left
`)

// ledgerGrace keeps a ledger readable briefly past its window.
const ledgerGrace = time.Hour

// RedisTracker keeps ledgers in Redis so every server process shares them.
type RedisTracker struct {
	rdb    redis.Scripter
	limits Limits
	opts   options
}

// NewRedisTracker creates a RedisTracker over rdb.
func NewRedisTracker(rdb redis.Scripter, limits Limits, opts ...Option) *RedisTracker {
	return &RedisTracker{rdb: rdb, limits: limits, opts: resolve(opts)}
}

func (t *RedisTracker) CheckAndReserve(ctx context.Context, clientID uuid.UUID, platform models.Platform, cost int64) (Reservation, models.QuotaUsage, error) {
	now := t.opts.now()
	start, end := Window(now, t.opts.loc)
	ceiling := t.limits[platform]
	key := cache.QuotaKey(clientID, string(platform), windowID(start))
	ttl := end.Add(ledgerGrace).Sub(now)

	res, err := reserveScript.Run(ctx, t.rdb, []string{key},
		cost, ceiling, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Reservation{}, models.QuotaUsage{}, fmt.Errorf("reserve quota: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, models.QuotaUsage{}, fmt.Errorf("reserve quota: unexpected reply %v", res)
	}

	usage := models.NewQuotaUsage(clientID, platform, res[1], ceiling, start, end)
	if res[0] == 0 {
		return Reservation{}, usage, fmt.Errorf("%w: %d of %d units used, %d requested", ErrExceeded, usage.Used, ceiling, cost)
	}
	return Reservation{ClientID: clientID, Platform: platform, Cost: cost, WindowStart: start}, usage, nil
}

func (t *RedisTracker) Release(ctx context.Context, r Reservation) error {
	if r.Cost <= 0 {
		return nil
	}
	key := cache.QuotaKey(r.ClientID, string(r.Platform), windowID(r.WindowStart))
	if err := releaseScript.Run(ctx, t.rdb, []string{key}, r.Cost).Err(); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (t *RedisTracker) Usage(ctx context.Context, clientID uuid.UUID, platform models.Platform) (models.QuotaUsage, error) {
	start, end := Window(t.opts.now(), t.opts.loc)
	key := cache.QuotaKey(clientID, string(platform), windowID(start))

	// Scripter does not expose GET; a read-only EVAL keeps the dependency narrow.
	used, err := t.rdb.Eval(ctx, `return tonumber(redis.call('GET', KEYS[1]) or '0')`, []string{key}).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.QuotaUsage{}, fmt.Errorf("read quota: %w", err)
	}
	return models.NewQuotaUsage(clientID, platform, used, t.limits[platform], start, end), nil
}
