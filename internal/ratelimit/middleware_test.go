package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubAllower struct {
	calls int
	max   int
	err   error
}

func (s *stubAllower) Allow(_ context.Context, _ string, window time.Duration, max int) (bool, int, time.Time, error) {
	s.calls++
	if s.err != nil {
		return false, 0, time.Time{}, s.err
	}
	remaining := max - s.calls
	if remaining < 0 {
		remaining = 0
	}
	return s.calls <= max, remaining, time.Now().Add(window), nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerSetsHeadersAndRejects(t *testing.T) {
	h := Handler{
		Limiter: &stubAllower{},
		Config:  Config{Key: func(*http.Request) string { return "static" }, Window: time.Minute, Max: 1},
	}
	mw := h.Middleware(okHandler())

	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestHandlerFailsOpenOnLimiterError(t *testing.T) {
	var seen error
	h := Handler{
		Limiter: &stubAllower{err: errors.New("redis: connection refused")},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(err error) { seen = err },
	}

	rr := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/submit", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualError(t, seen, "redis: connection refused")
}

func TestHandlerWithoutLimiterPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{Config: Config{Key: BySession}}.Middleware(okHandler()).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}
