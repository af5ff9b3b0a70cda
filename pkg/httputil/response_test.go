package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Detail
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"tier": "pro"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"tier":"pro"}`, w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		detail string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "email is required") }, http.StatusBadRequest, "email is required"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "Invalid credentials") }, http.StatusUnauthorized, "Invalid credentials"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "nope") }, http.StatusForbidden, "nope"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "User not found") }, http.StatusNotFound, "User not found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "exists") }, http.StatusConflict, "exists"},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, "slow down"},
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusTeapot, errors.New("short and stout")) }, http.StatusTeapot, "short and stout"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "down") }, http.StatusServiceUnavailable, "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.detail, decodeDetail(t, w))
		})
	}
}

func TestWriteInternalError_IsGeneric(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, GenericInternalError, decodeDetail(t, w))
}

func TestWritePaymentRequired(t *testing.T) {
	w := httptest.NewRecorder()

	WritePaymentRequired(w, map[string]interface{}{"detail": "Upgrade required", "code": "UPGRADE_REQUIRED"})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.JSONEq(t, `{"detail":"Upgrade required","code":"UPGRADE_REQUIRED"}`, w.Body.String())
}

func TestSuccessWriters(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NoError(t, WriteCreated(w, map[string]int{"id": 123}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	assert.NoError(t, WriteAccepted(w, map[string]string{"detail": "sent"}))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
