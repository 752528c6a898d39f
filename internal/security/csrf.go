package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/medihub-cart/internal/common"
)

// CSRF protects cookie-based sessions using the double-submit technique.
// Requests that carry their session in SessionHeader are not cookie-authenticated
// and pass through unchecked.
type CSRF struct {
	Header        string
	SessionHeader string
	Secure        bool
}

// Middleware issues a token cookie on safe requests and enforces that
// non-idempotent requests echo it in the CSRF header.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions || method == http.MethodTrace {
			if cookie, err := r.Cookie(headerName); err != nil || strings.TrimSpace(cookie.Value) == "" {
				http.SetCookie(w, &http.Cookie{
					Name:     headerName,
					Value:    uuid.NewString(),
					Path:     "/",
					Secure:   c.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		if c.SessionHeader != "" && strings.TrimSpace(r.Header.Get(c.SessionHeader)) != "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			forbidden(w, "missing csrf token")
			return
		}

		cookie, err := r.Cookie(headerName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			forbidden(w, "missing csrf cookie")
			return
		}

		if subtleConstantTimeCompare(token, cookie.Value) != 1 {
			forbidden(w, "invalid csrf token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func forbidden(w http.ResponseWriter, msg string) {
	common.JSONError(w, http.StatusForbidden, "CSRF_REJECTED", msg, nil)
}

func subtleConstantTimeCompare(a, b string) int {
	if len(a) != len(b) {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b))
}
