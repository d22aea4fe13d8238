package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, nil)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(user string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/devices/recycle", nil)
		r = r.WithContext(WithUserID(r.Context(), user))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call("alice").Code)
	assert.Equal(t, http.StatusNoContent, call("alice").Code)

	limited := call("alice")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, call("bob").Code)
}

func TestRateLimiter_FallsBackToClientIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:2000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiter("old")
	now = now.Add(time.Hour)
	rl.limiter("fresh")

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	_, ok := rl.visitors["fresh"]
	assert.True(t, ok)
}
