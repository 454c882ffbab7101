package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurityHeaders(r *http.Request) *httptest.ResponseRecorder {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestWithSecurityHeadersPolicy(t *testing.T) {
	rec := serveWithSecurityHeaders(httptest.NewRequest(http.MethodGet, "/emprunts/conversation-limit", nil))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "no-referrer",
		"Cache-Control":                "no-store",
		"Cross-Origin-Resource-Policy": "same-site",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("expected CSP header")
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("did not expect HSTS over plain http, got %q", got)
	}
}

func TestWithSecurityHeadersHSTS(t *testing.T) {
	forwarded := httptest.NewRequest(http.MethodGet, "/messages/conversations", nil)
	forwarded.Header.Set("X-Forwarded-Proto", " HTTPS ")
	direct := httptest.NewRequest(http.MethodGet, "/messages/conversations", nil)
	direct.TLS = &tls.ConnectionState{}

	for name, req := range map[string]*http.Request{"forwarded": forwarded, "direct tls": direct} {
		if got := serveWithSecurityHeaders(req).Header().Get("Strict-Transport-Security"); got != hstsValue {
			t.Fatalf("%s: HSTS = %q", name, got)
		}
	}
}
