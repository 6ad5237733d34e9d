package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-dealroom/internal/env"
	"github.com/vango-go/vai-dealroom/pkg/core/credential"
	"github.com/vango-go/vai-dealroom/pkg/core/negotiation"
)

type consoleConfig struct {
	TokenURL     string
	AgentID      string
	WSBaseURL    string
	ScenarioPath string
	LogFile      string
	LogLevel     string

	// Audio disables the microphone and speaker when false, which is useful
	// for driving the agent with typed messages only.
	Audio bool

	TokenTimeout time.Duration
	Negotiation  negotiation.Config
}

func loadConsoleConfig() (consoleConfig, error) {
	d := negotiation.DefaultConfig()
	cfg := consoleConfig{
		TokenURL:     env.Or("DEALROOM_TOKEN_URL", credential.DefaultURL),
		AgentID:      env.FirstOr("", "ELEVENLABS_AGENT_ID", "AGENT_ID"),
		WSBaseURL:    env.Or("DEALROOM_ELEVENLABS_WS_URL", "wss://api.elevenlabs.io"),
		ScenarioPath: env.Or("DEALROOM_SCENARIO", ""),
		LogFile:      env.Or("DEALROOM_LOG_FILE", "dealroom.log"),
		LogLevel:     strings.ToLower(env.Or("DEALROOM_LOG_LEVEL", "info")),
		Audio:        env.BoolOr("DEALROOM_AUDIO", true),
		TokenTimeout: env.DurationOr("DEALROOM_TOKEN_TIMEOUT", 10*time.Second),
		Negotiation: negotiation.Config{
			FreezeAfter:        env.DurationOr("DEALROOM_FREEZE_AFTER", d.FreezeAfter),
			EndAfter:           env.DurationOr("DEALROOM_END_AFTER", d.EndAfter),
			SyncInterval:       env.DurationOr("DEALROOM_SYNC_INTERVAL", d.SyncInterval),
			HeartbeatInterval:  env.DurationOr("DEALROOM_HEARTBEAT_INTERVAL", d.HeartbeatInterval),
			WatchdogInterval:   env.DurationOr("DEALROOM_WATCHDOG_INTERVAL", d.WatchdogInterval),
			StaleAfter:         env.DurationOr("DEALROOM_STALE_AFTER", d.StaleAfter),
			SpeechPollInterval: d.SpeechPollInterval,
			SpeechQuietWindow:  env.DurationOr("DEALROOM_SPEECH_QUIET", d.SpeechQuietWindow),
			SpeechMaxWait:      env.DurationOr("DEALROOM_SPEECH_MAX_WAIT", d.SpeechMaxWait),
			SendTimeout:        d.SendTimeout,
			EndSessionTimeout:  d.EndSessionTimeout,
			ChannelErrorStreak: env.IntOr("DEALROOM_CHANNEL_ERROR_STREAK", d.ChannelErrorStreak),
			OutboxSize:         d.OutboxSize,
			TranscriptSize:     d.TranscriptSize,
		},
	}

	if err := cfg.validate(); err != nil {
		return consoleConfig{}, err
	}
	return cfg, nil
}

func (c consoleConfig) validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("ELEVENLABS_AGENT_ID must be set")
	}
	if u, err := url.Parse(c.TokenURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DEALROOM_TOKEN_URL must be an absolute URL")
	}
	if u, err := url.Parse(c.WSBaseURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("DEALROOM_ELEVENLABS_WS_URL must be a ws:// or wss:// URL")
	}
	n := c.Negotiation
	if n.FreezeAfter <= 0 || n.EndAfter <= 0 {
		return fmt.Errorf("freeze and end offsets must be > 0")
	}
	if n.FreezeAfter >= n.EndAfter {
		return fmt.Errorf("DEALROOM_FREEZE_AFTER must be before DEALROOM_END_AFTER")
	}
	if n.SyncInterval <= 0 || n.HeartbeatInterval <= 0 || n.WatchdogInterval <= 0 {
		return fmt.Errorf("sync, heartbeat and watchdog intervals must be > 0")
	}
	if n.ChannelErrorStreak <= 0 {
		return fmt.Errorf("DEALROOM_CHANNEL_ERROR_STREAK must be > 0")
	}
	if c.TokenTimeout <= 0 {
		return fmt.Errorf("DEALROOM_TOKEN_TIMEOUT must be > 0")
	}
	return nil
}
