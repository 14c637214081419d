// Package client is a Go client for the publishq HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/kiranshivaraju/publishq/pkg/poll"
)

// PublishRequest is the body of POST /api/v1/publish.
type PublishRequest struct {
	ClientID           *uuid.UUID           `json:"client_id,omitempty"`
	SubmissionID       uuid.UUID            `json:"submission_id"`
	Platform           models.Platform      `json:"platform"`
	VideoAssetID       uuid.UUID            `json:"video_asset_id"`
	ThumbnailAssetID   *uuid.UUID           `json:"thumbnail_asset_id,omitempty"`
	Title              string               `json:"title"`
	Description        string               `json:"description,omitempty"`
	Tags               []string             `json:"tags,omitempty"`
	PrivacyStatus      models.PrivacyStatus `json:"privacy_status,omitempty"`
	ScheduledPublishAt *time.Time           `json:"scheduled_publish_at,omitempty"`
}

// ListOptions filters ListJobs. Zero values do not filter.
type ListOptions struct {
	ClientID *uuid.UUID
	Platform models.Platform
	Statuses []models.JobStatus
	Page     int
	Limit    int
}

// Page is the pagination block of a list response.
type Page struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("publishq: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one publishq server with one API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBackOff sets the retry policy for reads that fail transiently.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// New creates a Client for baseURL, e.g. http://localhost:8080.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("publishq base url required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("publishq api key required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Publish submits a job. idempotencyKey may be empty; when set, repeating the
// call with the same key returns the first job instead of a conflict.
func (c *Client) Publish(ctx context.Context, req PublishRequest, idempotencyKey string) (*models.PublishJob, error) {
	var job models.PublishJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/publish", nil, req, idempotencyKey, &job, nil); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob reads one job. It has no side effects.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*models.PublishJob, error) {
	var job models.PublishJob
	if err := c.get(ctx, "/api/v1/jobs/"+id.String(), nil, &job, nil); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns one page of jobs visible to the key.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) ([]*models.PublishJob, Page, error) {
	q := url.Values{}
	if opts.ClientID != nil {
		q.Set("client_id", opts.ClientID.String())
	}
	if opts.Platform != "" {
		q.Set("platform", string(opts.Platform))
	}
	if len(opts.Statuses) > 0 {
		s := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			s[i] = string(st)
		}
		q.Set("status", strings.Join(s, ","))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var jobs []*models.PublishJob
	var page Page
	if err := c.get(ctx, "/api/v1/jobs", q, &jobs, &page); err != nil {
		return nil, Page{}, err
	}
	return jobs, page, nil
}

// Events returns the job's signal history, oldest first.
func (c *Client) Events(ctx context.Context, id uuid.UUID) ([]*models.JobEvent, error) {
	var events []*models.JobEvent
	if err := c.get(ctx, "/api/v1/jobs/"+id.String()+"/events", nil, &events, nil); err != nil {
		return nil, err
	}
	return events, nil
}

// Retry re-enters a failed job into pending.
func (c *Client) Retry(ctx context.Context, id uuid.UUID, idempotencyKey string) (*models.PublishJob, error) {
	var job models.PublishJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id.String()+"/retry", nil, nil, idempotencyKey, &job, nil); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel stops a pending or uploading job.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*models.PublishJob, error) {
	var job models.PublishJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel", nil, nil, "", &job, nil); err != nil {
		return nil, err
	}
	return &job, nil
}

// Quota reads the current budget window. A nil clientID means the key's own client.
func (c *Client) Quota(ctx context.Context, clientID *uuid.UUID, p models.Platform) (models.QuotaUsage, error) {
	q := url.Values{"platform": {string(p)}}
	if clientID != nil {
		q.Set("client_id", clientID.String())
	}
	var usage models.QuotaUsage
	err := c.get(ctx, "/api/v1/quota", q, &usage, nil)
	return usage, err
}

// WaitForJob polls GetJob every interval until the job is terminal or ctx
// ends. onChange, if set, sees every distinct status or progress.
func (c *Client) WaitForJob(ctx context.Context, id uuid.UUID, interval time.Duration, onChange func(*models.PublishJob)) (*models.PublishJob, error) {
	return poll.UntilTerminal(ctx, interval, func(ctx context.Context) (*models.PublishJob, error) {
		return c.GetJob(ctx, id)
	}, onChange)
}

// get retries transport failures, 429 and 5xx with backoff. Writes are never
// retried here; use an idempotency key instead.
func (c *Client) get(ctx context.Context, path string, q url.Values, data, meta any) error {
	op := func() error {
		err := c.do(ctx, http.MethodGet, path, q, nil, "", data, meta)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status != http.StatusTooManyRequests && apiErr.Status < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, idempotencyKey string, data, meta any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	if meta != nil && len(env.Meta) > 0 {
		if err := json.Unmarshal(env.Meta, meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &env) == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
