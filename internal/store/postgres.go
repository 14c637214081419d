package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, client_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.ClientID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, clientID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE client_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, clientID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND deleted_at IS NULL`, id, clientID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.ClientID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Connections, assets, submissions ---

func (s *PostgresStore) IsConnected(ctx context.Context, clientID uuid.UUID, platform models.Platform) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM platform_connections
		   WHERE client_id = $1 AND platform = $2 AND revoked_at IS NULL AND access_token <> ''
		     AND (expires_at IS NULL OR expires_at > NOW()))`,
		clientID, string(platform)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check platform connection: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) GetPlatformConnection(ctx context.Context, clientID uuid.UUID, platform models.Platform) (*models.PlatformConnection, error) {
	c := models.PlatformConnection{ClientID: clientID, Platform: platform}
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, channel_id, expires_at, revoked_at, updated_at
		 FROM platform_connections WHERE client_id = $1 AND platform = $2`,
		clientID, string(platform),
	).Scan(&c.AccessToken, &c.ChannelID, &c.ExpiresAt, &c.RevokedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get platform connection: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var a models.Asset
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, kind, byte_location, content_type, size_bytes, duration_seconds, created_at
		 FROM assets WHERE id = $1`, id,
	).Scan(&a.ID, &a.ClientID, &a.Kind, &a.ByteLocation, &a.ContentType, &a.SizeBytes,
		&a.DurationSeconds, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) SubmissionExists(ctx context.Context, clientID, submissionID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE id = $1 AND client_id = $2)`,
		submissionID, clientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return ok, nil
}

// --- Publish jobs ---

const jobColumns = `id, client_id, submission_id, platform, video_asset_id, thumbnail_asset_id,
	title, description, tags, privacy_status, scheduled_publish_at, status, progress,
	platform_url, platform_video_id, error_code, error_message, attempt_count, quota_cost,
	created_at, updated_at, published_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.PublishJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO publish_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		job.ID, job.ClientID, job.SubmissionID, string(job.Platform), job.VideoAssetID, job.ThumbnailAssetID,
		job.Title, job.Description, tags, string(job.PrivacyStatus), job.ScheduledPublishAt,
		string(job.Status), job.Progress, job.PlatformURL, job.PlatformVideoID,
		errorCodeArg(job.ErrorCode), job.ErrorMessage, job.AttemptCount, job.QuotaCost,
		job.CreatedAt, job.UpdatedAt, job.PublishedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("create job: %w", err)
	}

	if err := insertEvent(ctx, tx, job, job.ErrorMessage); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.PublishJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM publish_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.PublishJob, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIdx))
		args = append(args, *filter.ClientID)
		argIdx++
	}
	if filter.Platform != "" {
		conditions = append(conditions, fmt.Sprintf("platform = $%d", argIdx))
		args = append(args, string(filter.Platform))
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM publish_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := filter.Normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM publish_jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) FindInFlightJob(ctx context.Context, submissionID uuid.UUID, platform models.Platform) (*models.PublishJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM publish_jobs
		 WHERE submission_id = $1 AND platform = $2 AND status = ANY($3) LIMIT 1`,
		submissionID, string(platform), statusStrings(models.InFlightStatuses)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in-flight job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, platform models.Platform, cutoff time.Time, limit int) ([]*models.PublishJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM publish_jobs
		 WHERE platform = $1 AND status = ANY($2) AND updated_at < $3
		 ORDER BY updated_at LIMIT $4`,
		string(platform), statusStrings(models.InFlightStatuses), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// TransitionJob moves a job to status `to` in a single conditional UPDATE, so
// concurrent writers cannot both win. The applied signal is appended to the
// job's event log in the same transaction.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, to models.JobStatus, opts ...JobUpdateOption) (*models.PublishJob, error) {
	from := models.AllowedFrom(to)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no edge into %s", ErrInvalidTransition, to)
	}
	upd := ResolveJobUpdate(opts...)
	now := time.Now().UTC()

	set := []string{"status = $2", "updated_at = $3"}
	args := []any{id, string(to), now}
	add := func(expr string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(expr, len(args)))
	}

	switch to {
	case models.JobStatusPending:
		set = append(set, "attempt_count = attempt_count + 1", "progress = 0",
			"error_code = NULL", "error_message = NULL", "platform_url = NULL", "platform_video_id = NULL")
		if upd.QuotaCost != nil {
			add("quota_cost = $%d", *upd.QuotaCost)
		}
	case models.JobStatusUploading, models.JobStatusProcessing:
		add("progress = GREATEST(progress, $%d)", clampProgress(upd.Progress))
	case models.JobStatusLive:
		set = append(set, "progress = 100")
		add("platform_url = $%d", upd.PlatformURL)
		add("platform_video_id = $%d", nullIfEmpty(upd.PlatformVideoID))
		add("published_at = $%d", now)
	case models.JobStatusFailed:
		add("error_code = $%d", string(upd.ErrorCode))
		add("error_message = $%d", upd.ErrorMessage)
	}

	args = append(args, statusStrings(from))
	where := fmt.Sprintf("id = $1 AND status = ANY($%d)", len(args))
	if upd.UpdatedBefore != nil {
		args = append(args, *upd.UpdatedBefore)
		where += fmt.Sprintf(" AND updated_at < $%d", len(args))
	}
	if upd.Attempt != 0 {
		args = append(args, upd.Attempt)
		where += fmt.Sprintf(" AND attempt_count = $%d", len(args))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx,
		"UPDATE publish_jobs SET "+strings.Join(set, ", ")+" WHERE "+where+" RETURNING "+jobColumns,
		args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionMiss(ctx, tx, id, to)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("transition job: %w", err)
	}

	var note *string
	switch {
	case upd.Note != "":
		note = &upd.Note
	case job.ErrorMessage != nil:
		note = job.ErrorMessage
	}
	if err := insertEvent(ctx, tx, job, note); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return job, nil
}

// transitionMiss explains why a conditional transition matched no row.
func (s *PostgresStore) transitionMiss(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.JobStatus) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM publish_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func (s *PostgresStore) ListJobEvents(ctx context.Context, jobID uuid.UUID) ([]*models.JobEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, seq, attempt, status, progress, error_code, message, created_at
		 FROM publish_job_events WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	events := []*models.JobEvent{}
	for rows.Next() {
		var (
			e       models.JobEvent
			status  string
			errCode *string
		)
		if err := rows.Scan(&e.JobID, &e.Seq, &e.Attempt, &status, &e.Progress, &errCode,
			&e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Status = models.JobStatus(status)
		if errCode != nil {
			c := models.ErrorCode(*errCode)
			e.ErrorCode = &c
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx pgx.Tx, job *models.PublishJob, note *string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO publish_job_events (job_id, seq, attempt, status, progress, error_code, message, created_at)
		 VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM publish_job_events WHERE job_id = $1),
		         $2, $3, $4, $5, $6, $7)`,
		job.ID, job.AttemptCount, string(job.Status), job.Progress, errorCodeArg(job.ErrorCode),
		note, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record job event: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.PublishJob, error) {
	var (
		j                        models.PublishJob
		platform, privacy, state string
		errCode                  *string
	)
	err := row.Scan(&j.ID, &j.ClientID, &j.SubmissionID, &platform, &j.VideoAssetID, &j.ThumbnailAssetID,
		&j.Title, &j.Description, &j.Tags, &privacy, &j.ScheduledPublishAt, &state, &j.Progress,
		&j.PlatformURL, &j.PlatformVideoID, &errCode, &j.ErrorMessage, &j.AttemptCount, &j.QuotaCost,
		&j.CreatedAt, &j.UpdatedAt, &j.PublishedAt)
	if err != nil {
		return nil, err
	}
	j.Platform = models.Platform(platform)
	j.PrivacyStatus = models.PrivacyStatus(privacy)
	j.Status = models.JobStatus(state)
	if errCode != nil {
		c := models.ErrorCode(*errCode)
		j.ErrorCode = &c
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.PublishJob, error) {
	defer rows.Close()
	jobs := []*models.PublishJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func errorCodeArg(c *models.ErrorCode) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
