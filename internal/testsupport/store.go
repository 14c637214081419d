// Package testsupport provides in-memory collaborators for package tests.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// MemoryStore is a store.Store held in maps. It enforces the same status
// edges and in-flight uniqueness as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	keys        map[uuid.UUID]*models.APIKey
	connections map[string]*models.PlatformConnection
	assets      map[uuid.UUID]*models.Asset
	submissions map[uuid.UUID]uuid.UUID
	jobs        map[uuid.UUID]*models.PublishJob
	events      map[uuid.UUID][]*models.JobEvent

	// PingErr, when set, is returned by Ping.
	PingErr error
	// Now overrides the clock used for updated_at.
	Now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:        make(map[uuid.UUID]*models.APIKey),
		connections: make(map[string]*models.PlatformConnection),
		assets:      make(map[uuid.UUID]*models.Asset),
		submissions: make(map[uuid.UUID]uuid.UUID),
		jobs:        make(map[uuid.UUID]*models.PublishJob),
		events:      make(map[uuid.UUID][]*models.JobEvent),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*MemoryStore)(nil)

func connKey(clientID uuid.UUID, p models.Platform) string {
	return clientID.String() + "/" + string(p)
}

// --- seeding ---

// AddSubmission registers a submission owned by clientID.
func (s *MemoryStore) AddSubmission(clientID, submissionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[submissionID] = clientID
}

// AddAsset stores a copy of a.
func (s *MemoryStore) AddAsset(a models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = &a
}

// Connect stores a usable grant for clientID on platform.
func (s *MemoryStore) Connect(clientID uuid.UUID, platform models.Platform, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connKey(clientID, platform)] = &models.PlatformConnection{
		ClientID:    clientID,
		Platform:    platform,
		AccessToken: token,
		UpdatedAt:   s.Now(),
	}
}

// Disconnect revokes the grant for clientID on platform.
func (s *MemoryStore) Disconnect(clientID uuid.UUID, platform models.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.connections[connKey(clientID, platform)]; ok {
		now := s.Now()
		c.RevokedAt = &now
	}
}

// Touch sets a job's updated_at, letting tests age a job for the sweeper.
func (s *MemoryStore) Touch(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = at
	}
}

// --- store.Store ---

func (s *MemoryStore) Ping(_ context.Context) error { return s.PingErr }

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := s.Now()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, k := range s.keys {
		if k.ClientID == key.ClientID && k.Name == key.Name && k.DeletedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, clientID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.APIKey{}
	for _, k := range s.keys {
		if k.ClientID == clientID && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.ClientID != clientID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := s.Now()
	k.DeletedAt = &now
	return nil
}

func (s *MemoryStore) IsConnected(_ context.Context, clientID uuid.UUID, platform models.Platform) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections[connKey(clientID, platform)].Usable(s.Now()), nil
}

func (s *MemoryStore) GetPlatformConnection(_ context.Context, clientID uuid.UUID, platform models.Platform) (*models.PlatformConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connKey(clientID, platform)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id uuid.UUID) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) SubmissionExists(_ context.Context, clientID, submissionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.submissions[submissionID]
	return ok && owner == clientID, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.PublishJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	if job.Status.InFlight() && s.inFlightLocked(job.SubmissionID, job.Platform, uuid.Nil) != nil {
		return store.ErrConflict
	}
	c := job.Clone()
	s.jobs[job.ID] = c
	s.appendEventLocked(c, c.ErrorMessage)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.PublishJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.PublishJob
	for _, j := range s.jobs {
		if filter.ClientID != nil && j.ClientID != *filter.ClientID {
			continue
		}
		if filter.Platform != "" && j.Platform != filter.Platform {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, j.Status) {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID.String() < matched[b].ID.String()
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	limit, offset := filter.Normalize()
	out := []*models.PublishJob{}
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, matched[i].Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) FindInFlightJob(_ context.Context, submissionID uuid.UUID, platform models.Platform) (*models.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.inFlightLocked(submissionID, platform, uuid.Nil)
	if j == nil {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListStaleJobs(_ context.Context, platform models.Platform, cutoff time.Time, limit int) ([]*models.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.PublishJob{}
	for _, j := range s.jobs {
		if j.Platform == platform && j.Status.InFlight() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id uuid.UUID, to models.JobStatus, opts ...store.JobUpdateOption) (*models.PublishJob, error) {
	upd := store.ResolveJobUpdate(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !models.CanTransition(j.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, to)
	}
	if upd.UpdatedBefore != nil && !j.UpdatedAt.Before(*upd.UpdatedBefore) {
		return nil, fmt.Errorf("%w: job updated since %s", store.ErrInvalidTransition, upd.UpdatedBefore.Format(time.RFC3339))
	}
	if upd.Attempt != 0 && j.AttemptCount != upd.Attempt {
		return nil, fmt.Errorf("%w: job is on attempt %d", store.ErrInvalidTransition, j.AttemptCount)
	}
	if to.InFlight() && !j.Status.InFlight() && s.inFlightLocked(j.SubmissionID, j.Platform, j.ID) != nil {
		return nil, store.ErrConflict
	}

	now := s.Now()
	switch to {
	case models.JobStatusPending:
		j.AttemptCount++
		j.Progress = 0
		j.ErrorCode, j.ErrorMessage = nil, nil
		j.PlatformURL, j.PlatformVideoID = nil, nil
		if upd.QuotaCost != nil {
			j.QuotaCost = *upd.QuotaCost
		}
	case models.JobStatusUploading, models.JobStatusProcessing:
		p := upd.Progress
		if p > 99 {
			p = 99
		}
		if p > j.Progress {
			j.Progress = p
		}
	case models.JobStatusLive:
		j.Progress = 100
		url := upd.PlatformURL
		j.PlatformURL = &url
		if upd.PlatformVideoID != "" {
			vid := upd.PlatformVideoID
			j.PlatformVideoID = &vid
		}
		j.PublishedAt = &now
	case models.JobStatusFailed:
		code, msg := upd.ErrorCode, upd.ErrorMessage
		j.ErrorCode, j.ErrorMessage = &code, &msg
	}
	j.Status = to
	j.UpdatedAt = now

	note := j.ErrorMessage
	if upd.Note != "" {
		n := upd.Note
		note = &n
	}
	s.appendEventLocked(j, note)
	return j.Clone(), nil
}

func (s *MemoryStore) ListJobEvents(_ context.Context, jobID uuid.UUID) ([]*models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.JobEvent, 0, len(s.events[jobID]))
	for _, e := range s.events[jobID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) inFlightLocked(submissionID uuid.UUID, platform models.Platform, except uuid.UUID) *models.PublishJob {
	for _, j := range s.jobs {
		if j.ID != except && j.SubmissionID == submissionID && j.Platform == platform && j.Status.InFlight() {
			return j
		}
	}
	return nil
}

func (s *MemoryStore) appendEventLocked(j *models.PublishJob, note *string) {
	evs := s.events[j.ID]
	e := &models.JobEvent{
		JobID:     j.ID,
		Seq:       int64(len(evs) + 1),
		Attempt:   j.AttemptCount,
		Status:    j.Status,
		Progress:  j.Progress,
		ErrorCode: j.ErrorCode,
		Message:   note,
		CreatedAt: j.UpdatedAt,
	}
	if note != nil {
		n := *note
		e.Message = &n
	}
	if j.ErrorCode != nil {
		c := *j.ErrorCode
		e.ErrorCode = &c
	}
	s.events[j.ID] = append(evs, e)
}

func containsStatus(list []models.JobStatus, s models.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
