package youtube_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/assets"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/platform/youtube"
	"github.com/kiranshivaraju/publishq/internal/testsupport"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chunk = 256 * 1024

// fakeYouTube is an in-memory Data API: a resumable upload endpoint, videos.list
// and thumbnails.set.
type fakeYouTube struct {
	mu           sync.Mutex
	received     bytes.Buffer
	metadata     map[string]any
	startStatus  int
	startBody    string
	failPuts     int // fail this many chunk PUTs with 503 after storing half the bytes
	polls        int
	finalStatus  string
	thumbnails   int
	thumbStatus  int
	authHeaders  []string
	contentTypes []string
}

func (f *fakeYouTube) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/videos", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.contentTypes = append(f.contentTypes, r.Header.Get("X-Upload-Content-Type"))
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		if f.startStatus != 0 {
			w.WriteHeader(f.startStatus)
			_, _ = io.WriteString(w, f.startBody)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.metadata))
		w.Header().Set("Location", "http://"+r.Host+"/session/1")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/session/1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cr := r.Header.Get("Content-Range")
		body, _ := io.ReadAll(r.Body)
		var start, end int64
		var total string
		if strings.HasPrefix(cr, "bytes */") {
			total = strings.TrimPrefix(cr, "bytes */")
			start, end = -1, -1
		} else {
			_, err := fmt.Sscanf(cr, "bytes %d-%d/%s", &start, &end, &total)
			assert.NoError(t, err, cr)
			assert.Equal(t, int64(f.received.Len()), start, "chunk must resume at acknowledged offset")
			if f.failPuts > 0 {
				f.failPuts--
				f.received.Write(body[:len(body)/2])
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":{"code":503,"message":"backend","errors":[{"reason":"backendError"}]}}`)
				return
			}
			f.received.Write(body)
		}
		if total != "*" && strconv.Itoa(f.received.Len()) == total {
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"vid123"}`)
			return
		}
		if f.received.Len() > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", f.received.Len()-1))
		}
		w.WriteHeader(http.StatusPermanentRedirect)
	})
	mux.HandleFunc("/api/videos", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "vid123", r.URL.Query().Get("id"))
		f.polls++
		status := "uploaded"
		if f.polls >= 2 {
			status = f.finalStatus
		}
		_, _ = fmt.Fprintf(w, `{"items":[{"id":"vid123","status":{"uploadStatus":%q,"rejectionReason":"copyright"},
			"processingDetails":{"processingStatus":"processing","processingProgress":{"partsTotal":"10","partsProcessed":"5"}}}]}`, status)
	})
	mux.HandleFunc("/upload/thumbnails/set", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.thumbnails++
		if f.thumbStatus != 0 {
			w.WriteHeader(f.thumbStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type staticTokens string

func (s staticTokens) Token(_ context.Context, _ uuid.UUID) (string, error) { return string(s), nil }

func newAdapter(t *testing.T, f *fakeYouTube) *youtube.Adapter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	client := youtube.NewClient(srv.URL+"/api", srv.URL+"/upload",
		youtube.WithRateLimit(1000, 100),
		youtube.WithChunkRetries(3),
		youtube.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return youtube.NewAdapter(client, assets.NewLocationOpener(time.Second), staticTokens("ya29.test"),
		youtube.Config{ChunkSize: chunk, PollInterval: 5 * time.Millisecond, StaleThreshold: time.Hour}, nil)
}

func writeVideo(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := bytes.Repeat([]byte("0123456789abcdef"), size/16)
	path := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func collect(t *testing.T, ch <-chan models.ProgressEvent) []models.ProgressEvent {
	t.Helper()
	var out []models.ProgressEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("adapter stream did not close")
		}
	}
}

func request(path string, thumb *models.Asset) models.PublishRequest {
	return models.PublishRequest{
		JobID:         uuid.New(),
		ClientID:      uuid.New(),
		Attempt:       1,
		Video:         models.Asset{ID: uuid.New(), ByteLocation: path, ContentType: "video/mp4"},
		Thumbnail:     thumb,
		Title:         "Launch day",
		Description:   "All the news",
		Tags:          []string{"launch", "news"},
		PrivacyStatus: models.PrivacyPublic,
	}
}

func TestUpload_HappyPath(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed"}
	a := newAdapter(t, f)
	path, data := writeVideo(t, 3*chunk+chunk/2)
	thumbPath, _ := writeVideo(t, 1024)

	req := request(path, &models.Asset{ID: uuid.New(), ByteLocation: thumbPath, ContentType: "image/jpeg"})
	assert.Equal(t, youtube.CostVideoInsert+youtube.CostThumbnailSet, a.UploadCost(req))

	ch, err := a.Upload(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.JobStatusLive, last.Status)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid123", last.PlatformURL)
	assert.Equal(t, "vid123", last.PlatformVideoID)

	prev := 0
	sawProcessing := false
	for _, e := range events[:len(events)-1] {
		assert.GreaterOrEqual(t, e.Progress, prev, "progress must not regress")
		assert.Less(t, e.Progress, 100)
		prev = e.Progress
		if e.Status == models.JobStatusProcessing {
			sawProcessing = true
		}
	}
	assert.True(t, sawProcessing)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, data, f.received.Bytes())
	assert.Equal(t, 1, f.thumbnails)
	assert.Equal(t, "Bearer ya29.test", f.authHeaders[0])
	assert.Equal(t, "video/mp4", f.contentTypes[0])
	snippet := f.metadata["snippet"].(map[string]any)
	assert.Equal(t, "Launch day", snippet["title"])
	status := f.metadata["status"].(map[string]any)
	assert.Equal(t, "public", status["privacyStatus"])
}

func TestUpload_ChunkRetryResumes(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed", failPuts: 2}
	a := newAdapter(t, f)
	path, data := writeVideo(t, 2*chunk)

	ch, err := a.Upload(context.Background(), request(path, nil))
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, models.JobStatusLive, events[len(events)-1].Status)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, data, f.received.Bytes())
}

func TestUpload_SignalPerAcknowledgedChunk(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed"}
	a := newAdapter(t, f)
	// 120 full chunks and a partial one; the partial one completes the upload.
	path, _ := writeVideo(t, 120*chunk+chunk/2)

	ch, err := a.Upload(context.Background(), request(path, nil))
	require.NoError(t, err)
	events := collect(t, ch)
	require.Equal(t, models.JobStatusLive, events[len(events)-1].Status)

	var uploading []models.ProgressEvent
	for _, e := range events {
		if e.Status == models.JobStatusUploading {
			uploading = append(uploading, e)
		}
	}
	assert.Len(t, uploading, 120)
	prev := 0
	for _, e := range uploading {
		assert.GreaterOrEqual(t, e.Progress, prev)
		assert.Less(t, e.Progress, 50)
		prev = e.Progress
	}
}

func TestUpload_ChunkRetriesExhausted(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed", failPuts: 10}
	a := newAdapter(t, f)
	path, _ := writeVideo(t, chunk)

	ch, err := a.Upload(context.Background(), request(path, nil))
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	assert.Equal(t, models.JobStatusFailed, last.Status)
	assert.Equal(t, models.ErrorCodeTransient, last.ErrorCode)
	assert.Contains(t, last.ErrorMessage, "backendError")
}

func TestUpload_QuotaExceededIsPermanent(t *testing.T) {
	f := &fakeYouTube{
		startStatus: http.StatusForbidden,
		startBody:   `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded","domain":"youtube.quota"}]}}`,
	}
	a := newAdapter(t, f)
	path, _ := writeVideo(t, chunk)

	ch, err := a.Upload(context.Background(), request(path, nil))
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, models.JobStatusFailed, events[0].Status)
	assert.Equal(t, models.ErrorCodePermanent, events[0].ErrorCode)
	assert.Contains(t, events[0].ErrorMessage, "quotaExceeded")
}

func TestUpload_RejectedDuringProcessing(t *testing.T) {
	f := &fakeYouTube{finalStatus: "rejected"}
	a := newAdapter(t, f)
	path, _ := writeVideo(t, chunk)

	ch, err := a.Upload(context.Background(), request(path, nil))
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	assert.Equal(t, models.JobStatusFailed, last.Status)
	assert.Equal(t, models.ErrorCodePermanent, last.ErrorCode)
	assert.Contains(t, last.ErrorMessage, "copyright")
}

func TestUpload_ThumbnailFailureIsNotFatal(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed", thumbStatus: http.StatusBadRequest}
	a := newAdapter(t, f)
	path, _ := writeVideo(t, chunk)
	thumbPath, _ := writeVideo(t, 64)

	ch, err := a.Upload(context.Background(), request(path, &models.Asset{ByteLocation: thumbPath}))
	require.NoError(t, err)
	events := collect(t, ch)
	assert.Equal(t, models.JobStatusLive, events[len(events)-1].Status)
}

func TestUpload_SynchronousRejections(t *testing.T) {
	f := &fakeYouTube{finalStatus: "processed"}
	a := newAdapter(t, f)

	_, err := a.Upload(context.Background(), request(filepath.Join(t.TempDir(), "missing.mp4"), nil))
	require.Error(t, err)
	assert.Equal(t, models.ErrorCodePermanent, platform.Classify(err))

	path, _ := writeVideo(t, chunk)
	req := request(path, nil)
	req.Title = "<>"
	_, err = a.Upload(context.Background(), req)
	require.Error(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.authHeaders, "nothing may reach YouTube when Upload fails")
}

func TestUpload_CancelStopsStream(t *testing.T) {
	f := &fakeYouTube{finalStatus: "uploaded"} // never finishes processing
	a := newAdapter(t, f)
	path, _ := writeVideo(t, chunk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.Upload(ctx, request(path, nil))
	require.NoError(t, err)

	for e := range ch {
		if e.Status == models.JobStatusProcessing {
			cancel()
			break
		}
	}
	events := collect(t, ch)
	for _, e := range events {
		assert.False(t, e.Terminal(), "no terminal event after cancel")
	}
}

func TestStoreTokenSource(t *testing.T) {
	st := testsupport.NewMemoryStore()
	clientID := uuid.New()
	src := youtube.StoreTokenSource{Store: st}

	_, err := src.Token(context.Background(), clientID)
	assert.Equal(t, models.ErrorCodePermanent, platform.Classify(err))

	st.Connect(clientID, models.PlatformYouTube, "ya29.abc")
	tok, err := src.Token(context.Background(), clientID)
	require.NoError(t, err)
	assert.Equal(t, "ya29.abc", tok)

	st.Disconnect(clientID, models.PlatformYouTube)
	_, err = src.Token(context.Background(), clientID)
	assert.Equal(t, models.ErrorCodePermanent, platform.Classify(err))
}

func TestClassifyResponses(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   models.ErrorCode
	}{
		{429, `{}`, models.ErrorCodeTransient},
		{500, `oops`, models.ErrorCodeTransient},
		{403, `{"error":{"errors":[{"reason":"rateLimitExceeded"}]}}`, models.ErrorCodeTransient},
		{403, `{"error":{"errors":[{"reason":"userRateLimitExceeded"}]}}`, models.ErrorCodeTransient},
		{403, `{"error":{"errors":[{"reason":"quotaExceeded"}]}}`, models.ErrorCodePermanent},
		{400, `{"error":{"errors":[{"reason":"uploadLimitExceeded"}]}}`, models.ErrorCodePermanent},
		{401, `{"error":{"errors":[{"reason":"authError"}]}}`, models.ErrorCodePermanent},
		{400, `{"error":{"errors":[{"reason":"invalidTitle"}]}}`, models.ErrorCodePermanent},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			c := youtube.NewClient(srv.URL, srv.URL, youtube.WithRateLimit(1000, 10))

			_, err := c.GetVideo(context.Background(), "tok", "vid")
			require.Error(t, err)
			assert.Equal(t, tt.want, platform.Classify(err))
		})
	}
}
