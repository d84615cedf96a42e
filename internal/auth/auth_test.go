package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	token, hash, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)

	a, err := NewTokenAuth(hash)
	require.NoError(t, err)
	assert.True(t, a.Valid(token))
	assert.False(t, a.Valid(token+"x"))
	assert.False(t, a.Valid(""))
}

func TestNewTokenAuthRejectsPlaintext(t *testing.T) {
	_, err := NewTokenAuth("not-a-hash")
	assert.Error(t, err)
}

func TestRequireToken(t *testing.T) {
	token, hash, err := GenerateToken()
	require.NoError(t, err)
	a, err := NewTokenAuth(hash)
	require.NoError(t, err)

	h := a.RequireToken(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Basic " + token, http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireTokenCapsConcurrentChecks(t *testing.T) {
	token, hash, err := GenerateToken()
	require.NoError(t, err)
	a, err := NewTokenAuth(hash)
	require.NoError(t, err)
	require.True(t, a.Valid(token))

	h := a.RequireToken(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	// occupy every bcrypt slot
	require.True(t, a.checks.TryAcquire(maxConcurrentChecks))

	assert.Equal(t, http.StatusTooManyRequests, call("Bearer bogus"))
	// the accepted token is served from the digest cache
	assert.Equal(t, http.StatusNoContent, call("Bearer "+token))

	a.checks.Release(maxConcurrentChecks)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer bogus"))
}
