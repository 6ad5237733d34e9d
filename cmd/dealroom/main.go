package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/vango-go/vai-dealroom/pkg/core/audio"
	"github.com/vango-go/vai-dealroom/pkg/core/credential"
	"github.com/vango-go/vai-dealroom/pkg/core/negotiation"
	"github.com/vango-go/vai-dealroom/pkg/core/scenario"
	"github.com/vango-go/vai-dealroom/pkg/core/voice/elevenlabs"
)

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "dealroom: %v\n", err)
		return 1
	}
	cfg, err := loadConsoleConfig()
	if err != nil {
		fmt.Fprintf(stderr, "dealroom: %v\n", err)
		return 2
	}
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(stderr, "dealroom: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg consoleConfig) error {
	logger, closeLog, err := openLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	sc, err := scenario.Load(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	book, err := sc.Book(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	if err != nil {
		return fmt.Errorf("build market: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	voiceCfg := elevenlabs.Config{
		AgentID:   cfg.AgentID,
		BaseWSURL: cfg.WSBaseURL,
		Logger:    logger.With("component", "elevenlabs"),
	}

	var speaker *audio.Speaker
	if cfg.Audio {
		speaker, err = audio.OpenSpeaker()
		if err != nil {
			logger.Warn("speaker unavailable, agent audio muted", "error", err)
		} else {
			defer speaker.Close()
			voiceCfg.AudioSink = speaker.Write
		}
	}
	client := elevenlabs.New(voiceCfg)

	var mic negotiation.Microphone = noMic{}
	if cfg.Audio {
		sm := &streamingMic{mic: audio.NewMicrophone(), sink: client.SendAudio}
		defer sm.Close()
		mic = sm
	}

	orch, err := negotiation.New(negotiation.Dependencies{
		Conversation: client,
		Microphone:   mic,
		Credentials:  credential.NewFetcher(cfg.TokenURL, &http.Client{Timeout: cfg.TokenTimeout}),
		Market:       book,
		Logger:       logger.With("component", "negotiation"),
		Config:       cfg.Negotiation,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(ctx) }()

	logger.Info("deal room ready", "product", sc.Product.Name, "buyers", len(sc.Buyers), "audio", cfg.Audio)

	prog := tea.NewProgram(newModel(ctx, orch), tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := prog.Run()

	cancel()
	runErr := <-runDone
	logger.Info("deal room closed")

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) && !errors.Is(uiErr, context.Canceled) {
		return fmt.Errorf("console: %w", uiErr)
	}
	return runErr
}

// openLogger writes structured logs to path so they do not corrupt the
// terminal UI.
func openLogger(path, level string) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	h := slog.NewTextHandler(f, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h), func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
