package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// RateLimitKey is the fixed-window request counter for one API key.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// QuotaKey is the ledger for one client, platform and budget window.
// window is the window start formatted as yyyymmdd in the quota timezone.
func QuotaKey(clientID uuid.UUID, platform, window string) string {
	return fmt.Sprintf("quota:%s:%s:%s", clientID, platform, window)
}

// IdempotencyKey maps a caller-supplied Idempotency-Key to the job it created.
func IdempotencyKey(clientID uuid.UUID, operation, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", clientID, operation, key)
}
