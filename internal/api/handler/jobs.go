package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/publishq/internal/api/middleware"
	"github.com/kiranshivaraju/publishq/internal/api/response"
	"github.com/kiranshivaraju/publishq/internal/publish"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// JobService is the part of the orchestrator the job handlers call.
type JobService interface {
	Create(ctx context.Context, caller publish.Caller, req publish.CreateRequest) (*models.PublishJob, error)
	Get(ctx context.Context, caller publish.Caller, jobID uuid.UUID) (*models.PublishJob, error)
	List(ctx context.Context, caller publish.Caller, filter store.JobFilter) ([]*models.PublishJob, int, error)
	Events(ctx context.Context, caller publish.Caller, jobID uuid.UUID) ([]*models.JobEvent, error)
	Retry(ctx context.Context, caller publish.Caller, jobID uuid.UUID) (*models.PublishJob, error)
	Cancel(ctx context.Context, caller publish.Caller, jobID uuid.UUID) (*models.PublishJob, error)
	Quota(ctx context.Context, caller publish.Caller, clientID uuid.UUID, p models.Platform) (models.QuotaUsage, error)
}

var _ JobService = (*publish.Orchestrator)(nil)

// callerFrom builds the orchestrator identity from what Authenticate stored.
func callerFrom(w http.ResponseWriter, r *http.Request) (publish.Caller, bool) {
	clientID, ok := mw.GetClientID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
		return publish.Caller{}, false
	}
	return publish.Caller{ClientID: clientID, Admin: mw.HasScope(r, mw.ScopeAdmin)}, true
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		invalidRequest(w, "job id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// NewPublishHandler returns an http.HandlerFunc for POST /api/v1/publish.
// A job rejected by a precondition is still 202: it exists, already failed.
func NewPublishHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var req publish.CreateRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			invalidRequest(w, "Invalid JSON body")
			return
		}
		job, err := svc.Create(r.Context(), caller, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Polling it has no side effects.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), caller, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewJobEventsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/events.
func NewJobEventsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		events, err := svc.Events(r.Context(), caller, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if events == nil {
			events = []*models.JobEvent{}
		}
		response.JSON(w, events)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs?client_id&platform&status&page&limit. status accepts a
// comma-separated list.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		var filter store.JobFilter

		if v := q.Get("client_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				invalidRequest(w, "client_id must be a UUID")
				return
			}
			filter.ClientID = &id
		}
		filter.Platform = models.Platform(q.Get("platform"))
		if v := q.Get("status"); v != "" {
			for _, s := range strings.Split(v, ",") {
				filter.Statuses = append(filter.Statuses, models.JobStatus(strings.TrimSpace(s)))
			}
		}
		var err error
		if filter.Page, err = intParam(q.Get("page")); err != nil {
			invalidRequest(w, "page must be an integer")
			return
		}
		if filter.Limit, err = intParam(q.Get("limit")); err != nil {
			invalidRequest(w, "limit must be an integer")
			return
		}

		jobs, total, err := svc.List(r.Context(), caller, filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []*models.PublishJob{}
		}
		limit, offset := filter.Normalize()
		response.Collection(w, jobs, response.NewPaginationMeta(offset/limit+1, limit, total))
	}
}

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
func NewRetryHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		job, err := svc.Retry(r.Context(), caller, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		job, err := svc.Cancel(r.Context(), caller, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewQuotaHandler returns an http.HandlerFunc for GET /api/v1/quota?client_id&platform.
func NewQuotaHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		var clientID uuid.UUID
		if v := q.Get("client_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				invalidRequest(w, "client_id must be a UUID")
				return
			}
			clientID = id
		}
		usage, err := svc.Quota(r.Context(), caller, clientID, models.Platform(q.Get("platform")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, usage)
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
