package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/internal/api/response"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every raw key this server issues. The auth middleware
// looks keys up by their first eight characters, which include it.
const KeyPrefix = "pq_"

// KeyStore is the part of store.Store the key handlers need.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, clientID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, clientID uuid.UUID) error
}

// CreatedKey is returned once, at creation. Key is never shown again.
type CreatedKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// Keys serves /api/v1/admin/keys. Routes are mounted behind RequireScope("admin").
type Keys struct {
	store KeyStore
	cost  int
	now   func() time.Time
}

func NewKeys(s KeyStore) *Keys {
	return &Keys{store: s, cost: bcrypt.DefaultCost, now: time.Now}
}

// Create handles POST /api/v1/admin/keys.
func (k *Keys) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		ClientID *uuid.UUID `json:"client_id"`
		Name     string     `json:"name"`
		Scopes   []string   `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidRequest(w, "Invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
			map[string]string{"name": "is required"})
		return
	}
	clientID := caller.ClientID
	if req.ClientID != nil {
		clientID = *req.ClientID
	}
	if req.Scopes == nil {
		req.Scopes = []string{}
	}

	raw, err := generateKey()
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), k.cost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := k.now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		ClientID:  clientID,
		Name:      req.Name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		Scopes:    req.Scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := k.store.CreateAPIKey(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "CONFLICT", "A key with this name already exists", nil)
			return
		}
		writeError(w, r, err)
		return
	}
	response.Created(w, CreatedKey{APIKey: key, Key: raw})
}

// List handles GET /api/v1/admin/keys?client_id.
func (k *Keys) List(w http.ResponseWriter, r *http.Request) {
	clientID, ok := k.clientParam(w, r)
	if !ok {
		return
	}
	keys, err := k.store.ListAPIKeys(r.Context(), clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.JSON(w, keys)
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}?client_id.
func (k *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	clientID, ok := k.clientParam(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		invalidRequest(w, "key id must be a UUID")
		return
	}
	if err := k.store.RevokeAPIKey(r.Context(), id, clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Key not found", nil)
			return
		}
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (k *Keys) clientParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return uuid.Nil, false
	}
	v := r.URL.Query().Get("client_id")
	if v == "" {
		return caller.ClientID, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		invalidRequest(w, "client_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}
