package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/publishq/internal/api/response"
	"github.com/kiranshivaraju/publishq/internal/cache"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 255
)

// Idempotency replays the first successful response recorded for a
// (client, route, Idempotency-Key) triple. Requests without the header pass
// straight through. Errors are never recorded, so a failed call can be
// repeated with the same key.
type Idempotency struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewIdempotency(c cache.Cache) *Idempotency {
	return &Idempotency{cache: c, ttl: idempotencyTTL}
}

type recorded struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func (m *Idempotency) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		clientID, ok := GetClientID(r)
		if key == "" || !ok {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Idempotency-Key must be at most 255 characters", nil)
			return
		}

		ck := cache.IdempotencyKey(clientID, r.Method+" "+r.URL.Path, key)
		raw, found, err := m.cache.Get(r.Context(), ck)
		if err != nil {
			slog.Warn("idempotency lookup failed", "error", err)
		}
		if found {
			var rec recorded
			if err := json.Unmarshal(raw, &rec); err == nil {
				w.Header().Set(ReplayedHeader, "true")
				response.Raw(w, rec.Status, rec.Body)
				return
			}
			slog.Warn("discarding unreadable idempotency record", "key", ck)
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		var body bytes.Buffer
		ww.Tee(&body)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status < 200 || status > 299 || !json.Valid(body.Bytes()) {
			return
		}
		enc, err := json.Marshal(recorded{Status: status, Body: body.Bytes()})
		if err != nil {
			return
		}
		if err := m.cache.Set(r.Context(), ck, enc, m.ttl); err != nil {
			slog.Warn("storing idempotency record", "key", ck, "error", err)
		}
	})
}
