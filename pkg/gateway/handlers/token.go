package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/gateway/config"
	"github.com/vango-go/vai-dealroom/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-dealroom/pkg/gateway/metrics"
	"github.com/vango-go/vai-dealroom/pkg/gateway/mw"
)

const (
	msgMissingConfig = "Missing ELEVENLABS_API_KEY or ELEVENLABS_AGENT_ID"
	msgTokenFailed   = "Failed to get conversation token"

	maxUpstreamBody = 64 << 10
)

// TokenHandler exchanges the server-side ElevenLabs API key for a
// short-lived conversation token the console can connect with.
type TokenHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Lifecycle  *lifecycle.Lifecycle
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	if !h.Config.HasCredentials() {
		logger.Error("conversation token requested without credentials configured", "request_id", reqID)
		writeError(w, r, core.NewCredentialError(msgMissingConfig, nil))
		return
	}

	defer h.Lifecycle.Track()()

	ctx, cancel := context.WithTimeout(r.Context(), h.Config.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	token, err := h.fetch(ctx)
	if err != nil {
		h.Metrics.RecordUpstream("error", time.Since(start))
		logger.Error("conversation token exchange failed", "request_id", reqID, "error", err)
		writeError(w, r, core.NewCredentialError(msgTokenFailed, err))
		return
	}
	h.Metrics.RecordUpstream("ok", time.Since(start))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: token})
}

func (h TokenHandler) fetch(ctx context.Context) (string, error) {
	endpoint := h.Config.ElevenLabsBaseURL + "/v1/convai/conversation/token?agent_id=" + url.QueryEscape(h.Config.ElevenLabsAgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("xi-api-key", h.Config.ElevenLabsAPIKey)
	req.Header.Set("Accept", "application/json")

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("upstream returned an empty token")
	}
	return out.Token, nil
}
