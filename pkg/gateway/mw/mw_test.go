package mw

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-dealroom/pkg/gateway/apierror"
	"github.com/vango-go/vai-dealroom/pkg/gateway/metrics"
	"github.com/vango-go/vai-dealroom/pkg/gateway/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil))
	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id=%q", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header=%q ctx=%q", rr.Header().Get("X-Request-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil)
	req.Header.Set("X-Request-ID", "req_client")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req_client" {
		t.Fatalf("client request id not kept: %q", seen)
	}
}

func TestRecover_PanicReturnsJSONEnvelope(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env apierror.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error != "internal error" || env.RequestID == "" {
		t.Fatalf("envelope=%+v", env)
	}
}

func TestAccessLog_LogsStatusAndRecordsMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New("test")

	h := AccessLog(logger, m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(WithRequestID(context.Background(), "req_test"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if got, ok := rec["status"].(float64); !ok || int(got) != http.StatusCreated {
		t.Fatalf("status=%v", rec["status"])
	}
	if rec["request_id"] != "req_test" {
		t.Fatalf("request_id=%v", rec["request_id"])
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/healthz", "201")); got != 1 {
		t.Fatalf("requests_total=%v", got)
	}
}

func TestAccessLog_UnknownPathUsesOtherLabel(t *testing.T) {
	m := metrics.New("test")
	h := AccessLog(nil, m, okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil))
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("other", "200")); got != 1 {
		t.Fatalf("other=%v", got)
	}
}

func TestCORS_DisabledByDefault_NoHeaders(t *testing.T) {
	h := CORS(map[string]struct{}{}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS headers, got %q", got)
	}
}

func TestCORS_AllowlistedOrigin_AttachesHeaders(t *testing.T) {
	h := CORS(map[string]struct{}{"http://localhost:3000": {}}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary=%q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for preflight")
	})
	h := CORS(map[string]struct{}{"https://deals.example.com": {}}, next)

	allowed := httptest.NewRequest(http.MethodOptions, "/api/conversation-token", nil)
	allowed.Header.Set("Origin", "https://deals.example.com")
	allowed.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, allowed)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Fatalf("allow-methods=%q", got)
	}

	denied := httptest.NewRequest(http.MethodOptions, "/api/conversation-token", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	denied.Header.Set("Access-Control-Request-Method", "GET")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, denied)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	m := metrics.New("test")
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RequestID(RateLimit(limiter, false, m, okHandler()))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status=%d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	var env apierror.Envelope
	if err := json.Unmarshal(second.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error != "rate limit exceeded" || env.RequestID == "" {
		t.Fatalf("envelope=%+v", env)
	}
	if got := testutil.ToFloat64(m.RateLimitHits.WithLabelValues("rps")); got != 1 {
		t.Fatalf("rate limit hits=%v", got)
	}
}

func TestRateLimit_HealthBypass(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, false, nil, okHandler())

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz call %d status=%d", i, rr.Code)
		}
	}
}

func TestRateLimit_DisabledLimiterPassesThrough(t *testing.T) {
	h := RateLimit(ratelimit.New(ratelimit.Config{}), false, nil, okHandler())
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversation-token", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
	}
}
