package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"DEALROOM_GATEWAY_ADDR",
	"ELEVENLABS_API_KEY",
	"ELEVENLABS_AGENT_ID",
	"AGENT_ID",
	"DEALROOM_ELEVENLABS_BASE_URL",
	"DEALROOM_GATEWAY_TRUST_PROXY_HEADERS",
	"DEALROOM_GATEWAY_CORS_ORIGINS",
	"DEALROOM_GATEWAY_RATE_LIMIT_RPS",
	"DEALROOM_GATEWAY_RATE_LIMIT_BURST",
	"DEALROOM_GATEWAY_MAX_CONCURRENT_REQUESTS",
	"DEALROOM_GATEWAY_READ_HEADER_TIMEOUT",
	"DEALROOM_GATEWAY_READ_TIMEOUT",
	"DEALROOM_GATEWAY_HANDLER_TIMEOUT",
	"DEALROOM_GATEWAY_UPSTREAM_TIMEOUT",
	"DEALROOM_GATEWAY_SHUTDOWN_GRACE_PERIOD",
	"DEALROOM_GATEWAY_METRICS",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range gatewayEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.ElevenLabsBaseURL != DefaultElevenLabsBaseURL {
		t.Fatalf("base url=%q", cfg.ElevenLabsBaseURL)
	}
	if cfg.HasCredentials() {
		t.Fatalf("expected no credentials by default")
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.UpstreamTimeout != 10*time.Second || cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("timeouts upstream=%v grace=%v", cfg.UpstreamTimeout, cfg.ShutdownGracePeriod)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("metrics should default on")
	}
}

func TestLoadFromEnv_ReadsSecretsAndOrigins(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ELEVENLABS_API_KEY", " xi_test ")
	t.Setenv("AGENT_ID", "agent_legacy")
	t.Setenv("DEALROOM_ELEVENLABS_BASE_URL", "http://127.0.0.1:9999/")
	t.Setenv("DEALROOM_GATEWAY_CORS_ORIGINS", "http://localhost:3000, https://deals.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ElevenLabsAPIKey != "xi_test" {
		t.Fatalf("api key=%q", cfg.ElevenLabsAPIKey)
	}
	if cfg.ElevenLabsAgentID != "agent_legacy" {
		t.Fatalf("agent id=%q", cfg.ElevenLabsAgentID)
	}
	if cfg.ElevenLabsBaseURL != "http://127.0.0.1:9999" {
		t.Fatalf("base url=%q", cfg.ElevenLabsBaseURL)
	}
	if !cfg.HasCredentials() {
		t.Fatalf("expected credentials")
	}
	if _, ok := cfg.CORSAllowedOrigins["https://deals.example.com"]; !ok || len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_AgentIDPrefersElevenLabsKey(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ELEVENLABS_AGENT_ID", "agent_primary")
	t.Setenv("AGENT_ID", "agent_legacy")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ElevenLabsAgentID != "agent_primary" {
		t.Fatalf("agent id=%q", cfg.ElevenLabsAgentID)
	}
}

func TestLoadFromEnv_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"DEALROOM_ELEVENLABS_BASE_URL", "not a url", "DEALROOM_ELEVENLABS_BASE_URL"},
		{"DEALROOM_GATEWAY_RATE_LIMIT_RPS", "-1", "DEALROOM_GATEWAY_RATE_LIMIT_RPS"},
		{"DEALROOM_GATEWAY_RATE_LIMIT_BURST", "-2", "DEALROOM_GATEWAY_RATE_LIMIT_BURST"},
		{"DEALROOM_GATEWAY_UPSTREAM_TIMEOUT", "0s", "DEALROOM_GATEWAY_UPSTREAM_TIMEOUT"},
		{"DEALROOM_GATEWAY_SHUTDOWN_GRACE_PERIOD", "-1s", "DEALROOM_GATEWAY_SHUTDOWN_GRACE_PERIOD"},
		{"DEALROOM_GATEWAY_READ_TIMEOUT", "0s", "timeouts"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v", err)
			}
		})
	}
}
