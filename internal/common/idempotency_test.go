package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{
		R:     client,
		TTL:   time.Hour,
		Scope: func(r *http.Request) string { return r.Header.Get("X-Session-ID") },
	}, mr
}

func send(h http.Handler, session, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/submit", nil)
	req.Header.Set("X-Session-ID", session)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, mr := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		JSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	}))

	require.Equal(t, http.StatusCreated, send(h, "s1", "k1").Code)
	rec := send(h, "s1", "k1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "IDEMPOTENT_REPLAY")

	// same header from another session is a different request
	require.Equal(t, http.StatusCreated, send(h, "s2", "k1").Code)
	// no header bypasses the check
	require.Equal(t, http.StatusCreated, send(h, "s1", "").Code)
	require.Equal(t, 3, calls)
	require.Len(t, mr.Keys(), 2)
}

func TestIdemReleasesKeyOnFailure(t *testing.T) {
	idem, mr := newIdem(t)
	fail := true
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			JSONError(w, http.StatusBadGateway, "ORDER_FAILED", "try again", nil)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	require.Equal(t, http.StatusBadGateway, send(h, "s1", "k1").Code)
	require.Empty(t, mr.Keys())

	fail = false
	require.Equal(t, http.StatusCreated, send(h, "s1", "k1").Code)
	require.Len(t, mr.Keys(), 1)
}
