package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Dosada05/palanteer/metrics"
	"github.com/Dosada05/palanteer/models"
)

func TestRateLimiter_PerClientBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rl.Middleware(ok)

	request := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		return serve(h, req)
	}

	before := testutil.ToFloat64(metrics.RateLimiterRejections)

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)

	rr := request("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error": "Too many requests. Please try again later."}`, rr.Body.String())

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimiterRejections))
}

func TestRateLimiter_KeysAuthenticatedUsersByID(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "10.0.0.9:1"
	reqA = reqA.WithContext(WithClaims(reqA.Context(), 1, models.RoleParticipant))

	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "10.0.0.9:2"
	reqB = reqB.WithContext(WithClaims(reqB.Context(), 2, models.RoleParticipant))

	assert.True(t, rl.Allow(clientKey(reqA)))
	assert.True(t, rl.Allow(clientKey(reqB)), "users behind one address are limited separately")
	assert.False(t, rl.Allow(clientKey(reqA)))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.ttl = time.Millisecond
	rl.Allow("ip:1.2.3.4")
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 0, rl.Cleanup())
}
