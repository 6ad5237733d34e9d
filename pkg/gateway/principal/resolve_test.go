package principal

import (
	"net/http/httptest"
	"testing"
)

func TestResolve_UsesRemoteAddrByDefault(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/conversation-token", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	got := Resolve(req, false)
	if got.Kind != KindIP || got.Raw != "192.0.2.10" {
		t.Fatalf("resolved=%+v", got)
	}
	if got.Key == "" || got.Key == got.Raw {
		t.Fatalf("key should be hashed, got %q", got.Key)
	}
}

func TestResolve_TrustedProxyHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/conversation-token", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := Resolve(req, true); got.Raw != "203.0.113.5" {
		t.Fatalf("raw=%q", got.Raw)
	}

	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := Resolve(req, true); got.Raw != "198.51.100.7" {
		t.Fatalf("X-Real-IP should win over XFF, raw=%q", got.Raw)
	}
}

func TestResolve_GarbageIsAnonymous(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "not-an-ip"
	if got := Resolve(req, false); got.Kind != KindAnon || got.Key != "anonymous" {
		t.Fatalf("resolved=%+v", got)
	}
	if got := Resolve(nil, true); got.Kind != KindAnon {
		t.Fatalf("nil request resolved=%+v", got)
	}
}
