package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/publishq/internal/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &publish.ValidationError{Fields: map[string]string{"title": "is required"}}, 400, "VALIDATION_ERROR"},
		{"not found", publish.ErrNotFound, 404, "NOT_FOUND"},
		{"conflict", fmt.Errorf("%w: job in flight", publish.ErrConflict), 409, "CONFLICT"},
		{"invalid state", fmt.Errorf("%w: job is live", publish.ErrInvalidState), 409, "INVALID_STATE"},
		{"forbidden", publish.ErrForbidden, 403, "FORBIDDEN"},
		{"other", errors.New("connection reset"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "connection reset")
		})
	}
}
