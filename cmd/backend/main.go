package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	archiveimpl "github.com/foxseedlab/mensetsu/external/archive"
	configloader "github.com/foxseedlab/mensetsu/external/config"
	"github.com/foxseedlab/mensetsu/external/discord"
	oracleimpl "github.com/foxseedlab/mensetsu/external/oracle"
	repositoryimpl "github.com/foxseedlab/mensetsu/external/repository"
	transcriberimpl "github.com/foxseedlab/mensetsu/external/transcriber"
	ttsimpl "github.com/foxseedlab/mensetsu/external/tts"
	webhookimpl "github.com/foxseedlab/mensetsu/external/webhook"
	"github.com/foxseedlab/mensetsu/internal/config"
	discordpkg "github.com/foxseedlab/mensetsu/internal/discord"
	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/foxseedlab/mensetsu/internal/server"
	"github.com/foxseedlab/mensetsu/internal/session"
	"github.com/samber/do/v2"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "asr_provider", cfg.ASRProvider, "oracle_provider", cfg.OracleProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching interview server")
	runServer(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	oracleimpl.RegisterDI(injector)
	ttsimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	archiveimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	server.RegisterDI(injector)

	return injector
}

func runServer(cfg *config.Config, injector do.Injector) {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	handler, err := do.Invoke[*server.Handler](injector)
	if err != nil {
		slog.Error("failed to resolve http handler", "error", err)
		os.Exit(1)
	}
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to resolve repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if cfg.DiscordToken != "" {
		dc, err := do.Invoke[discordpkg.Client](injector)
		if err != nil {
			slog.Error("failed to resolve discord client", "error", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
		err = dc.Connect(ctx)
		cancel()
		if err != nil {
			slog.Error("discord connect failed", "error", err)
			os.Exit(1)
		}
		slog.Info("startup: discord connected", "channel_id", cfg.DiscordTranscriptChannelID)
		defer func() {
			if err := dc.Close(); err != nil {
				slog.Error("discord close failed", "error", err)
			}
		}()
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go manager.RunReaper(reaperCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	done := make(chan struct{})
	go func() {
		slog.Info("startup: http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	manager.Shutdown(ctx)
}
