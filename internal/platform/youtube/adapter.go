// Package youtube publishes videos through the YouTube Data API v3 using
// resumable uploads, then polls processing until the video is live.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/assets"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Data API cost units.
const (
	CostVideoInsert  int64 = 1600
	CostThumbnailSet int64 = 50
)

// Progress bands: transfer fills 0-50, platform processing 50-99.
const (
	uploadBand     = 50
	processingBand = 49
)

// TokenSource returns an access token for a client's YouTube channel.
type TokenSource interface {
	Token(ctx context.Context, clientID uuid.UUID) (string, error)
}

// StoreTokenSource reads grants from the platform connections table.
type StoreTokenSource struct {
	Store store.Store
}

func (s StoreTokenSource) Token(ctx context.Context, clientID uuid.UUID) (string, error) {
	conn, err := s.Store.GetPlatformConnection(ctx, clientID, models.PlatformYouTube)
	if errors.Is(err, store.ErrNotFound) {
		return "", platform.Permanent("no YouTube connection for client", err)
	}
	if err != nil {
		return "", platform.Transient("read YouTube connection", err)
	}
	if !conn.Usable(time.Now()) {
		return "", platform.Permanent("YouTube connection revoked or expired", nil)
	}
	return conn.AccessToken, nil
}

// Config tunes the adapter.
type Config struct {
	ChunkSize      int64
	PollInterval   time.Duration
	StaleThreshold time.Duration
}

// Adapter implements models.PlatformAdapter for YouTube.
type Adapter struct {
	client *Client
	assets assets.Opener
	tokens TokenSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter creates a YouTube adapter.
func NewAdapter(client *Client, opener assets.Opener, tokens TokenSource, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024 * 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, assets: opener, tokens: tokens, cfg: cfg, logger: logger, now: time.Now}
}

func (a *Adapter) Platform() models.Platform { return models.PlatformYouTube }

func (a *Adapter) UploadCost(req models.PublishRequest) int64 {
	cost := CostVideoInsert
	if req.Thumbnail != nil {
		cost += CostThumbnailSet
	}
	return cost
}

func (a *Adapter) StaleThreshold() time.Duration { return a.cfg.StaleThreshold }

// Upload validates the request, opens the video and returns a stream that
// transfers it. Nothing is sent to YouTube before Upload returns.
func (a *Adapter) Upload(ctx context.Context, req models.PublishRequest) (<-chan models.ProgressEvent, error) {
	meta, err := buildVideo(req, a.now())
	if err != nil {
		return nil, err
	}
	token, err := a.tokens.Token(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	body, size, err := a.assets.Open(ctx, req.Video)
	if err != nil {
		return nil, err
	}
	if size < 0 && req.Video.SizeBytes > 0 {
		size = req.Video.SizeBytes
	}

	ch := make(chan models.ProgressEvent)
	go a.run(ctx, ch, req, token, meta, body, size)
	return ch, nil
}

type upload struct {
	ctx context.Context
	ch  chan<- models.ProgressEvent
	log *slog.Logger
}

// send delivers e unless the job was cancelled.
func (u upload) send(e models.ProgressEvent) bool {
	select {
	case u.ch <- e:
		return true
	case <-u.ctx.Done():
		return false
	}
}

func (u upload) fail(err error) {
	if u.ctx.Err() != nil {
		return
	}
	u.send(models.ProgressEvent{
		Status:       models.JobStatusFailed,
		ErrorCode:    platform.Classify(err),
		ErrorMessage: err.Error(),
	})
}

func (a *Adapter) run(ctx context.Context, ch chan<- models.ProgressEvent, req models.PublishRequest,
	token string, meta *Video, body io.ReadCloser, size int64) {
	defer close(ch)
	u := upload{ctx: ctx, ch: ch, log: a.logger.With("job_id", req.JobID, "platform", "youtube")}

	videoID, err := a.transfer(u, token, meta, body, size, req.Video.ContentType)
	body.Close()
	if err != nil {
		u.fail(err)
		return
	}
	u.log.Info("video uploaded", "video_id", videoID)
	if !u.send(models.ProgressEvent{Status: models.JobStatusProcessing, Progress: uploadBand}) {
		return
	}

	if req.Thumbnail != nil {
		a.setThumbnail(u, token, videoID, *req.Thumbnail)
	}
	a.awaitProcessing(u, token, videoID)
}

// transfer streams body through a resumable session in chunks.
func (a *Adapter) transfer(u upload, token string, meta *Video, body io.Reader, size int64, contentType string) (string, error) {
	session, err := a.client.StartUpload(u.ctx, token, meta, size, contentType)
	if err != nil {
		return "", err
	}

	buf := make([]byte, a.cfg.ChunkSize)
	var offset int64
	for {
		n, rerr := io.ReadFull(body, buf)
		if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) && !errors.Is(rerr, io.EOF) {
			return "", platform.Transient("reading video bytes", rerr)
		}
		final := rerr != nil
		total := size
		if final {
			total = offset + int64(n)
		}

		res, err := a.client.UploadChunk(u.ctx, token, session, buf[:n], offset, total)
		if err != nil {
			return "", err
		}
		if res.Done {
			return res.VideoID, nil
		}
		if final {
			return "", platform.Transient(fmt.Sprintf("upload incomplete after last byte: server holds %d of %d", res.Next, total), nil)
		}
		if res.Next < offset+int64(n) {
			return "", platform.Transient(fmt.Sprintf("server acknowledged %d bytes, expected %d", res.Next, offset+int64(n)), nil)
		}
		offset = res.Next

		// Every acknowledged chunk is reported, even when the percentage has
		// not moved, so a large upload keeps refreshing the job.
		if !u.send(models.ProgressEvent{Status: models.JobStatusUploading, Progress: uploadPercent(offset, size)}) {
			return "", u.ctx.Err()
		}
	}
}

// uploadPercent maps acknowledged bytes onto the upload band, leaving its
// top for the processing signal. Unknown sizes report 0.
func uploadPercent(offset, size int64) int {
	if size <= 0 {
		return 0
	}
	pct := int(offset * uploadBand / size)
	if pct >= uploadBand {
		pct = uploadBand - 1
	}
	return pct
}

// setThumbnail failures are logged; a video without its custom thumbnail is
// still published.
func (a *Adapter) setThumbnail(u upload, token, videoID string, thumb models.Asset) {
	r, size, err := a.assets.Open(u.ctx, thumb)
	if err != nil {
		u.log.Warn("thumbnail unavailable", "asset_id", thumb.ID, "error", err)
		return
	}
	defer r.Close()
	if err := a.client.SetThumbnail(u.ctx, token, videoID, r, size, thumb.ContentType); err != nil {
		u.log.Warn("thumbnail upload failed", "video_id", videoID, "error", err)
	}
}

// awaitProcessing polls the video until YouTube finishes with it. Every poll
// emits a signal, which keeps a slow but healthy job clear of the sweeper.
func (a *Adapter) awaitProcessing(u upload, token, videoID string) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	progress := uploadBand
	for {
		select {
		case <-u.ctx.Done():
			return
		case <-ticker.C:
		}

		v, err := a.client.GetVideo(u.ctx, token, videoID)
		if err != nil {
			if platform.Classify(err) == models.ErrorCodeTransient {
				u.log.Warn("processing poll failed", "video_id", videoID, "error", err)
				continue
			}
			u.fail(err)
			return
		}

		var st VideoStatus
		if v.Status != nil {
			st = *v.Status
		}
		switch st.UploadStatus {
		case "processed":
			u.send(models.ProgressEvent{
				Status:          models.JobStatusLive,
				Progress:        100,
				PlatformURL:     watchURL(videoID),
				PlatformVideoID: videoID,
			})
			return
		case "failed":
			u.fail(platform.Permanent("processing failed: "+st.FailureReason, nil))
			return
		case "rejected":
			u.fail(platform.Permanent("video rejected: "+st.RejectionReason, nil))
			return
		case "deleted":
			u.fail(platform.Permanent("video deleted during processing", nil))
			return
		}

		if p := processingPercent(v.ProcessingDetails); p > progress {
			progress = p
		}
		if !u.send(models.ProgressEvent{Status: models.JobStatusProcessing, Progress: progress}) {
			return
		}
	}
}

// processingPercent maps processed parts into the processing band.
func processingPercent(d *ProcessingDetails) int {
	if d == nil || d.ProcessingProgress == nil || d.ProcessingProgress.PartsTotal == 0 {
		return uploadBand
	}
	pp := d.ProcessingProgress
	done := pp.PartsProcessed
	if done > pp.PartsTotal {
		done = pp.PartsTotal
	}
	return uploadBand + int(done*processingBand/pp.PartsTotal)
}

var _ models.PlatformAdapter = (*Adapter)(nil)
