package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"golang.org/x/time/rate"
)

// Client talks to the YouTube Data API v3 over HTTP.
type Client struct {
	apiBase    string
	uploadBase string
	http       *http.Client
	limiter    *rate.Limiter
	retries    int
	newBackOff func() backoff.BackOff
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithChunkRetries sets how many times a failed chunk is retried.
func WithChunkRetries(n int) ClientOption {
	return func(c *Client) { c.retries = n }
}

// WithBackOff sets the delay policy between chunk retries.
func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = f }
}

// NewClient creates a Client. apiBase and uploadBase are the Data API and
// upload endpoints without a trailing slash.
func NewClient(apiBase, uploadBase string, opts ...ClientOption) *Client {
	c := &Client{
		apiBase:    strings.TrimRight(apiBase, "/"),
		uploadBase: strings.TrimRight(uploadBase, "/"),
		http:       &http.Client{Timeout: 5 * time.Minute},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		retries:    3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartUpload opens a resumable upload session and returns its URI.
func (c *Client) StartUpload(ctx context.Context, token string, v *Video, size int64, contentType string) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding video resource: %w", err)
	}
	u := fmt.Sprintf("%s/videos?uploadType=resumable&part=snippet,status", c.uploadBase)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if size >= 0 {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	}
	if contentType != "" {
		req.Header.Set("X-Upload-Content-Type", contentType)
	}

	resp, err := c.do(ctx, token, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyResponse(resp)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", platform.Transient("upload session response had no Location", nil)
	}
	return loc, nil
}

// ChunkResult is the outcome of sending one chunk.
type ChunkResult struct {
	Done    bool
	Next    int64
	VideoID string
}

// UploadChunk sends data as the bytes starting at offset. total is the full
// size, or -1 while it is still unknown. Retries resume from whatever the
// server acknowledged.
func (c *Client) UploadChunk(ctx context.Context, token, session string, data []byte, offset, total int64) (ChunkResult, error) {
	var res ChunkResult
	attempt := 0
	op := func() error {
		sendFrom := offset
		if attempt > 0 {
			acked, err := c.queryOffset(ctx, token, session, total)
			if err != nil {
				return retryable(err)
			}
			if acked.Done {
				res = acked
				return nil
			}
			if acked.Next > offset+int64(len(data)) || acked.Next < offset {
				return backoff.Permanent(platform.Permanent(
					fmt.Sprintf("upload session resumed at byte %d outside chunk %d-%d", acked.Next, offset, offset+int64(len(data))), nil))
			}
			sendFrom = acked.Next
		}
		attempt++

		r, err := c.putChunk(ctx, token, session, data[sendFrom-offset:], sendFrom, total)
		if err != nil {
			return retryable(err)
		}
		res = r
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.retries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return ChunkResult{}, err
	}
	return res, nil
}

// retryable stops backoff for permanent platform errors.
func retryable(err error) error {
	if platform.Classify(err) == models.ErrorCodePermanent {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) putChunk(ctx context.Context, token, session string, data []byte, offset, total int64) (ChunkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session, bytes.NewReader(data))
	if err != nil {
		return ChunkResult{}, fmt.Errorf("building request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Range", contentRange(offset, int64(len(data)), total))
	return c.sessionResult(ctx, token, req)
}

// queryOffset asks the server how many bytes of the session it holds.
func (c *Client) queryOffset(ctx context.Context, token, session string, total int64) (ChunkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session, http.NoBody)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("building request: %w", err)
	}
	size := "*"
	if total >= 0 {
		size = strconv.FormatInt(total, 10)
	}
	req.Header.Set("Content-Range", "bytes */"+size)
	return c.sessionResult(ctx, token, req)
}

func (c *Client) sessionResult(ctx context.Context, token string, req *http.Request) (ChunkResult, error) {
	resp, err := c.do(ctx, token, req)
	if err != nil {
		return ChunkResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPermanentRedirect: // 308 Resume Incomplete
		return ChunkResult{Next: parseRange(resp.Header.Get("Range"))}, nil
	case http.StatusOK, http.StatusCreated:
		var v Video
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return ChunkResult{}, platform.Transient("decoding upload response", err)
		}
		if v.ID == "" {
			return ChunkResult{}, platform.Permanent("upload completed without a video id", nil)
		}
		return ChunkResult{Done: true, VideoID: v.ID}, nil
	case http.StatusNotFound:
		return ChunkResult{}, platform.Permanent("upload session expired", nil)
	default:
		return ChunkResult{}, classifyResponse(resp)
	}
}

// GetVideo reads upload and processing state for id.
func (c *Client) GetVideo(ctx context.Context, token, id string) (*Video, error) {
	params := url.Values{"part": {"status,processingDetails"}, "id": {id}}
	u := fmt.Sprintf("%s/videos?%s", c.apiBase, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.do(ctx, token, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp)
	}
	var list struct {
		Items []Video `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, platform.Transient("decoding videos.list response", err)
	}
	if len(list.Items) == 0 {
		return nil, platform.Permanent(fmt.Sprintf("video %s no longer exists", id), nil)
	}
	return &list.Items[0], nil
}

// SetThumbnail uploads a custom thumbnail for videoID.
func (c *Client) SetThumbnail(ctx context.Context, token, videoID string, r io.Reader, size int64, contentType string) error {
	u := fmt.Sprintf("%s/thumbnails/set?videoId=%s", c.uploadBase, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(ctx, token, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyResponse(resp)
	}
	return nil
}

// do waits for the rate limiter, authorizes req and sends it.
func (c *Client) do(ctx context.Context, token string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, platform.Transient("rate limiter", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// classifyTransportError maps transport-level errors onto platform errors.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return platform.Transient("request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return platform.Transient("network error", err)
	}
	return platform.Transient("request failed", err)
}

// googleError is the Data API error envelope.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Domain  string `json:"domain"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// Reasons that may succeed if retried unchanged.
var transientReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
	"internalError":         true,
}

// classifyResponse turns a non-success response into a platform error.
func classifyResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var ge googleError
	_ = json.Unmarshal(body, &ge)

	reason := ""
	if len(ge.Error.Errors) > 0 {
		reason = ge.Error.Errors[0].Reason
	}
	msg := ge.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	detail := fmt.Sprintf("status %d", resp.StatusCode)
	if reason != "" {
		detail += " " + reason
	}
	if msg != "" {
		detail += ": " + msg
	}

	switch {
	case transientReasons[reason]:
		return platform.Transient(detail, nil)
	case reason == "quotaExceeded", reason == "uploadLimitExceeded":
		return platform.Permanent(detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return platform.Transient(detail, nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return platform.Permanent("invalid credentials: "+detail, nil)
	default:
		return platform.Permanent(detail, nil)
	}
}

// contentRange formats a Content-Range header for n bytes at offset.
func contentRange(offset, n, total int64) string {
	size := "*"
	if total >= 0 {
		size = strconv.FormatInt(total, 10)
	}
	if n == 0 {
		return "bytes */" + size
	}
	return fmt.Sprintf("bytes %d-%d/%s", offset, offset+n-1, size)
}

// parseRange reads the next offset from a "bytes=0-N" Range header.
func parseRange(h string) int64 {
	_, last, ok := strings.Cut(strings.TrimPrefix(h, "bytes="), "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n + 1
}
