package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ksaito/noelbot/agent"
	"github.com/ksaito/noelbot/bot"
	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/ledger"
	"github.com/ksaito/noelbot/llm"
	"github.com/ksaito/noelbot/logstore"
	"github.com/ksaito/noelbot/web"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Config path: --config flag > NOELBOT_CONFIG env > default
	cfgPath := config.Resolve()
	if *configPath != "" {
		cfgPath = *configPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		setupLogger(*logLevel, *logFormat, nil)
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	var logs *logstore.Store
	if cfg.Ledger.LogDBPath != "" {
		logs, err = logstore.Open(cfg.Ledger.LogDBPath)
		if err != nil {
			setupLogger(*logLevel, *logFormat, nil)
			slog.Error("failed to open log store", "error", err)
			os.Exit(1)
		}
		defer logs.Close()
	}
	setupLogger(*logLevel, *logFormat, logs)
	slog.Info("config loaded", "path", cfgPath)

	led, err := ledger.Open(&cfg.Ledger, cfg.Bot.PersonaName)
	if err != nil {
		slog.Error("failed to open guild ledger", "error", err)
		os.Exit(1)
	}
	defer led.Close()
	slog.Info("guild ledger opened", "path", cfg.Ledger.DBPath)

	llmClient := llm.New(&cfg.LLM, cfg.Bot.PersonaName)

	b, err := bot.New(cfg.Bot.Token)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := agent.NewRouter(ctx, cfg, llmClient, led)
	b.SetRouter(router)

	webSrv := web.New(cfg.Web.Addr, cfg.Bot.PersonaName, cfg.Bot.Version, router, logs)
	go func() {
		slog.Info("web server listening", "addr", cfg.Web.Addr)
		if err := webSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web server failed", "error", err)
		}
	}()

	if err := b.Start(); err != nil {
		slog.Error("failed to start bot", "error", err)
		os.Exit(1)
	}
	slog.Info("bot started", "persona", cfg.Bot.PersonaName, "version", cfg.Bot.Version)

	// Block until SIGTERM or SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	slog.Info("shutting down")
	cancel()
	b.Stop()
	router.WaitForDrain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("web server shutdown", "error", err)
	}
	slog.Info("shutdown complete")
}

func setupLogger(level, format string, logs *logstore.Store) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	if logs != nil {
		h = logstore.NewHandler(h, logs)
	}
	slog.SetDefault(slog.New(h))
}
