package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const validToken = "3f2b8c1e-4d5a-4e6f-9a7b-1c2d3e4f5a6b"

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{name: "none", want: ""},
		{name: "cookie", cookie: validToken, want: validToken},
		{name: "header fallback", header: validToken, want: validToken},
		{name: "malformed cookie falls back to header", cookie: "not-a-uuid", header: validToken, want: validToken},
		{name: "malformed header", header: "'; DROP TABLE users; --", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(SessionHeaderName, tt.header)
			}
			if got := TokenFromRequest(req); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareStoresToken(t *testing.T) {
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TokenFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: validToken})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got != validToken {
		t.Fatalf("expected token in context, got %q", got)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("middleware must not set cookies")
	}
}

func TestSessionCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSessionCookie(rr, validToken, false)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != validToken || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie: %+v", c)
	}

	rr = httptest.NewRecorder()
	ClearSessionCookie(rr, true)
	c = rr.Result().Cookies()[0]
	if c.MaxAge >= 0 || c.Value != "" || c.Secure {
		t.Fatalf("expected expired dev cookie, got %+v", c)
	}
}
