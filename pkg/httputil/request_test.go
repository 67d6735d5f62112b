package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{"name": "test"}`))
		w := httptest.NewRecorder()
		var dest map[string]string

		ok := ParseJSONOrError(w, req, &dest)

		assert.True(t, ok)
		assert.Equal(t, "test", dest["name"])
	})

	t.Run("invalid body writes 400", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{invalid}`))
		w := httptest.NewRecorder()
		var dest map[string]string

		ok := ParseJSONOrError(w, req, &dest)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		key         string
		defaultVal  int
		want        int
		expectError bool
	}{
		{
			name:       "parses value",
			url:        "/test?limit=25",
			key:        "limit",
			defaultVal: 100,
			want:       25,
		},
		{
			name:       "missing uses default",
			url:        "/test",
			key:        "limit",
			defaultVal: 100,
			want:       100,
		},
		{
			name:        "garbage is an error",
			url:         "/test?limit=lots",
			key:         "limit",
			defaultVal:  100,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)

			got, err := ParseQueryInt(req, tt.key, tt.defaultVal)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?status=sold", nil)

	assert.Equal(t, "sold", ParseQueryString(req, "status", "listed"))
	assert.Equal(t, "listed", ParseQueryString(req, "missing", "listed"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "X-Forwarded-For single",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:    "203.0.113.5",
		},
		{
			name:    "X-Forwarded-For chain takes the first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5,10.0.0.1"},
			want:    "203.0.113.5",
		},
		{
			name:    "X-Real-IP fallback",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:   "RemoteAddr fallback",
			remote: "192.0.2.1:1234",
			want:   "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}

			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
