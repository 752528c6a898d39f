package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveHeaders(h Headers, req *http.Request) http.Header {
	rr := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://medihub.test/api/v1/cart", nil)
	req.TLS = &tls.ConnectionState{}

	headers := serveHeaders(Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true}, req)
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", headers.Get("Cache-Control"))
	require.Equal(t, "max-age=600; includeSubDomains", headers.Get("Strict-Transport-Security"))
	require.Contains(t, headers.Get("Permissions-Policy"), "geolocation=(self)")
}

func TestHeadersHSTSBehindProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://medihub.test/api/v1/cart", nil)
	require.Empty(t, serveHeaders(Headers{Enable: true, EnableHSTS: true}, req).Get("Strict-Transport-Security"))

	req.Header.Set("X-Forwarded-Proto", "https")
	require.Equal(t, "max-age=31536000", serveHeaders(Headers{Enable: true, EnableHSTS: true}, req).Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	headers := serveHeaders(Headers{EnableHSTS: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, headers.Get("X-Content-Type-Options"))
	require.Empty(t, headers.Get("Cache-Control"))
}
