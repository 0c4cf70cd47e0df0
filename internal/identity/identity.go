// Package identity carries the client-held session token between HTTP
// requests and handlers.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CookieName        = "svx_session"
	SessionHeaderName = "X-SVX-Session-ID"
	cookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const tokenKey contextKey = iota

// TokenFromContext returns the session token carried by the request, or ""
// when the client sent none.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// WithToken returns a copy of ctx carrying token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func sanitizeToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if _, err := uuid.Parse(token); err != nil {
		return ""
	}
	return token
}

// TokenFromRequest reads the token from the session cookie, falling back to
// the session header. Malformed tokens are treated as absent.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil {
		if token := sanitizeToken(c.Value); token != "" {
			return token
		}
	}
	return sanitizeToken(r.Header.Get(SessionHeaderName))
}

// SetSessionCookie stores sessionID on the client.
func SetSessionCookie(w http.ResponseWriter, sessionID string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// ClearSessionCookie removes the session cookie from the client.
func ClearSessionCookie(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware puts the request's session token in the context. It never
// resolves or mutates sessions; handlers decide what the token means.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithToken(r.Context(), TokenFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for rate limiting and logs.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
