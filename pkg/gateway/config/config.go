package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vango-go/vai-dealroom/internal/env"
)

const DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"

type Config struct {
	Addr string

	// Server-side secrets for the conversation token exchange. Missing values
	// are not a load error; the token endpoint and /readyz report them.
	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
	ElevenLabsBaseURL string

	TrustProxyHeaders bool

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Per-client-IP limits. Zero disables a limit.
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	UpstreamTimeout     time.Duration
	ShutdownGracePeriod time.Duration

	MetricsEnabled bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       env.Or("DEALROOM_GATEWAY_ADDR", ":8787"),
		ElevenLabsAPIKey:           strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsAgentID:          env.FirstOr("", "ELEVENLABS_AGENT_ID", "AGENT_ID"),
		ElevenLabsBaseURL:          strings.TrimRight(env.Or("DEALROOM_ELEVENLABS_BASE_URL", DefaultElevenLabsBaseURL), "/"),
		TrustProxyHeaders:          env.BoolOr("DEALROOM_GATEWAY_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:         make(map[string]struct{}),
		LimitRPS:                   env.Float64Or("DEALROOM_GATEWAY_RATE_LIMIT_RPS", 2),
		LimitBurst:                 env.IntOr("DEALROOM_GATEWAY_RATE_LIMIT_BURST", 5),
		LimitMaxConcurrentRequests: env.IntOr("DEALROOM_GATEWAY_MAX_CONCURRENT_REQUESTS", 8),
		ReadHeaderTimeout:          env.DurationOr("DEALROOM_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                env.DurationOr("DEALROOM_GATEWAY_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             env.DurationOr("DEALROOM_GATEWAY_HANDLER_TIMEOUT", 20*time.Second),
		UpstreamTimeout:            env.DurationOr("DEALROOM_GATEWAY_UPSTREAM_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        env.DurationOr("DEALROOM_GATEWAY_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		MetricsEnabled:             env.BoolOr("DEALROOM_GATEWAY_METRICS", true),
	}

	for _, origin := range env.SplitCSV(os.Getenv("DEALROOM_GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("DEALROOM_GATEWAY_ADDR must not be empty")
	}
	u, err := url.Parse(c.ElevenLabsBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DEALROOM_ELEVENLABS_BASE_URL must be an absolute URL")
	}
	if c.LimitRPS < 0 {
		return fmt.Errorf("DEALROOM_GATEWAY_RATE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("DEALROOM_GATEWAY_RATE_LIMIT_BURST must be >= 0")
	}
	if c.LimitMaxConcurrentRequests < 0 {
		return fmt.Errorf("DEALROOM_GATEWAY_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.HandlerTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("DEALROOM_GATEWAY_UPSTREAM_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("DEALROOM_GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

// HasCredentials reports whether both ElevenLabs secrets are configured.
func (c Config) HasCredentials() bool {
	return c.ElevenLabsAPIKey != "" && c.ElevenLabsAgentID != ""
}
