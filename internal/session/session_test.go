package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medihub-cart/internal/session"
)

func TestMiddlewareUsesHeader(t *testing.T) {
	r := session.NewResolver("", false, time.Hour)
	var seen string
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = session.From(req.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(session.DefaultHeaderName, "abcdef123456")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abcdef123456", seen)
	require.Empty(t, rec.Result().Cookies())
}

func TestMiddlewareIssuesCookieForInvalidID(t *testing.T) {
	r := session.NewResolver("", true, time.Hour)
	var seen string
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = session.From(req.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(session.DefaultHeaderName, "bad:key*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, seen)
	require.NotEqual(t, "bad:key*", seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.DefaultCookieName, cookies[0].Name)
	require.Equal(t, seen, cookies[0].Value)
	require.True(t, cookies[0].Secure)
}

func TestResolveFromCookie(t *testing.T) {
	r := session.NewResolver("", false, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "cookie-session-01"})
	require.Equal(t, "cookie-session-01", r.Resolve(req))
}

func TestKey(t *testing.T) {
	require.Equal(t, "medihub_cart_v1", session.Key(context.Background(), "medihub_cart_v1"))
	ctx := session.With(context.Background(), "s1")
	require.Equal(t, "session:s1:medihub_cart_v1", session.Key(ctx, "medihub_cart_v1"))
}
