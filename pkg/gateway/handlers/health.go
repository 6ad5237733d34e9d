package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-dealroom/pkg/gateway/config"
	"github.com/vango-go/vai-dealroom/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler fails while draining or when the ElevenLabs secrets are
// missing, since every token request would fail in that state.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		InFlight       int64    `json:"inflight_token_requests"`
		CORSEnabled    bool     `json:"cors_enabled"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		MetricsEnabled bool     `json:"metrics_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 3)
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	if h.Config.ElevenLabsAPIKey == "" {
		issues = append(issues, "ELEVENLABS_API_KEY is not set")
	}
	if h.Config.ElevenLabsAgentID == "" {
		issues = append(issues, "ELEVENLABS_AGENT_ID is not set")
	}

	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentRequests > 0

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		InFlight:       h.Lifecycle.InFlight(),
		CORSEnabled:    len(h.Config.CORSAllowedOrigins) > 0,
		LimitsEnabled:  limitsEnabled,
		MetricsEnabled: h.Config.MetricsEnabled,
		Issues:         issues,
	})
}
