package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/api"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/config"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/engine"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/fetch"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/webhook.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	// ── Resource API client ───────────────────────────────────────────────────
	fetcher, err := newFetcher(cfg.ResourceAPI)
	if err != nil {
		slog.Error("failed to build resource API client", "err", err)
		os.Exit(1)
	}
	slog.Info("resource API configured",
		"base_url", cfg.ResourceAPI.BaseURL,
		"root", cfg.ResourceAPI.Root,
		"auth", cfg.ResourceAPI.Token != "",
	)

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := engine.DefaultRegistry(logger)
	eng := engine.New(ctx, fetcher, reg, cfg.Engine)
	slog.Info("engine started",
		"workers", cfg.Engine.Workers,
		"queue_depth", cfg.Engine.QueueDepth,
		"formats", reg.Formats(),
		"default_format", cfg.Render.DefaultFormat,
	)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		f, err := newFetcher(newCfg.ResourceAPI)
		if err != nil {
			slog.Warn("hot-reload skipped: resource API client invalid", "err", err)
			return
		}
		eng.SwapFetcher(f)
		if newCfg.Engine != cfg.Engine {
			slog.Warn("engine settings changed; restart to apply", "workers", newCfg.Engine.Workers)
		}
		slog.Info("config hot-reloaded", "base_url", newCfg.ResourceAPI.BaseURL, "default_format", newCfg.Render.DefaultFormat)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.New(eng, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop workers
	eng.Shutdown()
	slog.Info("goodbye")
}

func newFetcher(c config.ResourceAPIConf) (*fetch.HTTPFetcher, error) {
	return fetch.NewHTTPFetcher(fetch.HTTPConfig{
		BaseURL: c.BaseURL,
		Root:    c.Root,
		Token:   c.Token,
		Timeout: time.Duration(c.TimeoutMs) * time.Millisecond,
	})
}
