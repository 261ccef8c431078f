package security

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://auth.example.com")

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	if got := rec.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS should be set for an HTTPS issuer")
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("CSP should be set")
	}
}

func TestSetSecurityHeaders_NoHSTSOverHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:8080")

	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS = %q, want unset for an HTTP issuer", got)
	}
}

func TestSetPageSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetPageSecurityHeaders(rec, "https://auth.example.com")

	csp := rec.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("page CSP should be set")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("pages must still deny framing")
	}
}
