package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{name: "valid JSON", body: `{"email": "a@example.com"}`},
		{name: "invalid JSON", body: `{invalid}`, expectError: true},
		{name: "empty body", body: ``, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/login", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "a@example.com", dest["email"])
			}
		})
	}
}

func TestParseJSONOrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/login", strings.NewReader("nope"))

	var dest map[string]string
	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"detail"`)
}

func TestParseJSONOrError_TooLarge(t *testing.T) {
	handler := MaxBytesMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]string
		if ParseJSONOrError(w, r, &dest) {
			w.WriteHeader(http.StatusOK)
		}
	}))

	w := httptest.NewRecorder()
	body := `{"email": "` + strings.Repeat("a", 64) + `"}`
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/login", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin/users/a@example.com", nil)
	req = mux.SetURLVars(req, map[string]string{"email": "a@example.com"})

	val, err := ParsePathString(req, "email")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", val)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "flag")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin/users?limit=25&offset=x", nil)

	val, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, val)

	val, err = ParseQueryInt(req, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, val)

	_, err = ParseQueryInt(req, "offset", 0)
	assert.Error(t, err)
}

func TestParseQueryIntInRange(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 30, false},
		{"days=1", 1, false},
		{"days=90", 90, false},
		{"days=0", 0, true},
		{"days=91", 0, true},
		{"days=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me/usage/history?"+tt.query, nil)
			got, err := ParseQueryIntInRange(req, "days", 30, 1, 90)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/me/usage?date=2026-03-01", nil)
	assert.Equal(t, "2026-03-01", ParseQueryString(req, "date", ""))
	assert.Equal(t, "fallback", ParseQueryString(req, "other", "fallback"))
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "email"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email is required")

	assert.True(t, RequireNonEmpty(httptest.NewRecorder(), "x", "email"))
}
