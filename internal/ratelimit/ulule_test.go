package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medihub-cart/internal/session"
)

func TestUluleAllow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for name, rdb := range map[string]*redis.Client{"redis": client, "memory": nil} {
		t.Run(name, func(t *testing.T) {
			u, err := NewUlule(rdb, "rl-test")
			require.NoError(t, err)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				allowed, remaining, _, err := u.Allow(ctx, "session:abc", time.Minute, 3)
				require.NoError(t, err)
				require.True(t, allowed)
				require.Equal(t, 2-i, remaining)
			}
			allowed, remaining, reset, err := u.Allow(ctx, "session:abc", time.Minute, 3)
			require.NoError(t, err)
			require.False(t, allowed)
			require.Zero(t, remaining)
			require.True(t, reset.After(time.Now()))

			allowed, _, _, err = u.Allow(ctx, "session:other", time.Minute, 3)
			require.NoError(t, err)
			require.True(t, allowed)
		})
	}
}

func TestBySession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	require.Equal(t, "ip:10.0.0.7", BySession(req))

	req = req.WithContext(session.With(req.Context(), "abcdefgh"))
	require.Equal(t, "session:abcdefgh", BySession(req))
}

func TestHandlerRejectsWithJSON(t *testing.T) {
	u, err := NewUlule(nil, "rl-json")
	require.NoError(t, err)
	handler := Handler{
		Limiter: u,
		Config:  Config{Key: BySession, Window: time.Minute, Max: 1},
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Contains(t, second.Body.String(), "RATE_LIMITED")
	require.NotEmpty(t, second.Header().Get("Retry-After"))
}
