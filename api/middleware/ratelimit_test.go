package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedWindowStub struct {
	counts map[string]int64
	err    error
	scopes []string
}

func (s *fixedWindowStub) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if s.err != nil {
		return false, 0, s.err
	}
	if s.counts == nil {
		s.counts = map[string]int64{}
	}
	s.counts[scope]++
	s.scopes = append(s.scopes, scope)
	return s.counts[scope] <= limit, s.counts[scope], nil
}

func rateLimitedHandler(limiter RateLimiter, limit int64) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return RateLimit(limiter, "payments:initiate", limit, time.Minute, nil)(next)
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	limiter := &fixedWindowStub{}
	handler := rateLimitedHandler(limiter, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/initiate", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	limiter := &fixedWindowStub{}
	handler := rateLimitedHandler(limiter, 1)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/payments/initiate", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/payments/initiate", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitScopesByUser(t *testing.T) {
	limiter := &fixedWindowStub{}
	handler := rateLimitedHandler(limiter, 1)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/payments/initiate", nil)
	req = req.WithContext(WithUserID(req.Context(), userID))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, limiter.scopes, 1)
	assert.Equal(t, "payments:initiate:"+userID.String(), limiter.scopes[0])
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &fixedWindowStub{err: errors.New("redis down")}
	handler := rateLimitedHandler(limiter, 1)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/initiate", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitDisabledWithoutLimiter(t *testing.T) {
	handler := rateLimitedHandler(nil, 5)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/initiate", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
