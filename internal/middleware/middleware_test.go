package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserID(r.Context())
		role, _ := Role(r.Context())
		w.Header().Set("X-Uid", uid)
		w.Header().Set("X-Role", role)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthAcceptsDevTokensOnlyInDev(t *testing.T) {
	tm := auth.NewTokenManager("s", "bghs", time.Minute)

	h := NewAuthMiddleware(tm, "dev").Auth(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer dev-admin-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("X-Uid") != "42" || rr.Header().Get("X-Role") != "admin" {
		t.Fatalf("dev token: code=%d uid=%q role=%q", rr.Code, rr.Header().Get("X-Uid"), rr.Header().Get("X-Role"))
	}

	h = NewAuthMiddleware(tm, "prod").Auth(okHandler())
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for dev token in prod, got %d", rr.Code)
	}
}

func TestAuthWithJWT(t *testing.T) {
	tm := auth.NewTokenManager("s", "bghs", time.Minute)
	tok, _, _ := tm.Issue("u-1", "user")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	NewAuthMiddleware(tm, "prod").Auth(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("X-Uid") != "u-1" {
		t.Fatalf("unexpected response %d uid=%q", rr.Code, rr.Header().Get("X-Uid"))
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(okHandler())

	cases := []struct {
		name string
		uid  string
		role string
		want int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"member", "u-1", "user", http.StatusForbidden},
		{"admin", "u-2", "admin", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.uid != "" {
				req = req.WithContext(WithUser(req.Context(), tc.uid, tc.role))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestLimiterRefills(t *testing.T) {
	l := newLimiter(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if l.allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("b") {
		t.Fatal("other clients have their own bucket")
	}
	now = now.Add(500 * time.Millisecond)
	if !l.allow("a") {
		t.Fatal("expected one token after half a second")
	}
}

func TestRequestIDKeepsInboundHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("unexpected request id %q", seen)
	}
}
