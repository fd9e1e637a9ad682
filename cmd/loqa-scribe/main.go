package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		device      string
		modelPath   string
		wavPath     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults and LOQA_SCRIBE_* env when empty)")
	flag.StringVar(&device, "device", "", "Capture device passed to the capture command")
	flag.StringVar(&modelPath, "model", "", "Path to the acoustic model directory")
	flag.StringVar(&wavPath, "wav", "", "Replay a 16-bit PCM WAV file instead of capturing")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}
	if device != "" {
		cfg.Audio.Device = device
	}
	if modelPath != "" {
		cfg.STT.ModelPath = modelPath
	}
	if wavPath != "" {
		cfg.Audio.Source = "wav"
		cfg.Audio.WAVPath = wavPath
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	console := runtime.NewConsole(color.Output, !color.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger, console)
	res, err := rt.Run(ctx)
	if err != nil {
		logger.Error("session failed", slog.String("session_id", res.SessionID), slog.String("error", err.Error()))
		console.Warnf("Session failed: %v", err)
		return 1
	}

	logger.Info("shutdown complete",
		slog.String("session_id", res.SessionID),
		slog.Uint64("chunks", res.Stats.Chunks),
		slog.Uint64("dropped", res.Dropped),
	)
	return 0
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
