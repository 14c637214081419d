package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/publishq/internal/api/response"
	"github.com/kiranshivaraju/publishq/internal/metrics"
)

// MetricsSource reports the current instrument readings.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]metrics.Point, error)
}

// NewMetricsHandler returns an http.HandlerFunc for GET /api/v1/admin/metrics.
func NewMetricsHandler(src MetricsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		points, err := src.Snapshot(r.Context())
		if err != nil {
			slog.Error("metrics snapshot failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to collect metrics", nil)
			return
		}
		response.JSON(w, points)
	}
}
