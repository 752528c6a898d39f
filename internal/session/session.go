package session

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const sessionContextKey contextKey = "session.id"

const (
	DefaultHeaderName = "X-Session-ID"
	DefaultCookieName = "medihub_sid"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Resolver resolves the browsing session from a header or cookie, issuing a
// fresh session cookie when neither carries a usable identifier.
type Resolver struct {
	HeaderName   string
	CookieName   string
	CookieDomain string
	CookieSecure bool
	CookieTTL    time.Duration
	SameSite     http.SameSite
}

// NewResolver returns a resolver with default header and cookie names.
func NewResolver(cookieDomain string, secure bool, ttl time.Duration) *Resolver {
	return &Resolver{
		HeaderName:   DefaultHeaderName,
		CookieName:   DefaultCookieName,
		CookieDomain: strings.TrimSpace(cookieDomain),
		CookieSecure: secure,
		CookieTTL:    ttl,
	}
}

// Middleware injects the session identifier into the request context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := r.Resolve(req)
		if id == "" {
			id = uuid.NewString()
			r.issueCookie(w, id)
		}
		w.Header().Set(r.headerName(), id)
		next.ServeHTTP(w, req.WithContext(With(req.Context(), id)))
	})
}

// Resolve returns the session identifier carried by the request, if valid.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if id := strings.TrimSpace(req.Header.Get(r.headerName())); validID.MatchString(id) {
		return id
	}
	if c, err := req.Cookie(r.cookieName()); err == nil {
		if id := strings.TrimSpace(c.Value); validID.MatchString(id) {
			return id
		}
	}
	return ""
}

func (r *Resolver) issueCookie(w http.ResponseWriter, id string) {
	ttl := r.CookieTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName(),
		Value:    id,
		Path:     "/",
		Domain:   r.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.CookieSecure,
		SameSite: r.sameSite(),
	})
}

func (r *Resolver) sameSite() http.SameSite {
	if r.SameSite == 0 || r.SameSite == http.SameSiteDefaultMode {
		return http.SameSiteLaxMode
	}
	return r.SameSite
}

func (r *Resolver) headerName() string {
	if r.HeaderName == "" {
		return DefaultHeaderName
	}
	return r.HeaderName
}

func (r *Resolver) cookieName() string {
	if r.CookieName == "" {
		return DefaultCookieName
	}
	return r.CookieName
}

// With stores the session identifier inside the context.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, id)
}

// From extracts the session identifier from the context if available.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(sessionContextKey).(string)
	if !ok {
		return "", false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	return id, true
}

// PrefixKey namespaces a storage key by session id.
func PrefixKey(id, key string) string {
	if id == "" {
		return key
	}
	return "session:" + id + ":" + key
}

// Key namespaces key by the session carried on ctx.
func Key(ctx context.Context, key string) string {
	id, _ := From(ctx)
	return PrefixKey(id, key)
}
