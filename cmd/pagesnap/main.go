package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/api"
	"github.com/dgnsrekt/pagesnap/internal/cache"
	"github.com/dgnsrekt/pagesnap/internal/capture"
	"github.com/dgnsrekt/pagesnap/internal/config"
	"github.com/dgnsrekt/pagesnap/internal/controller"
	"github.com/dgnsrekt/pagesnap/internal/imaging"
	"github.com/dgnsrekt/pagesnap/internal/metrics"
	"github.com/dgnsrekt/pagesnap/internal/netutil"
	"github.com/dgnsrekt/pagesnap/internal/render"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"bind_addr", cfg.BindAddr(),
		"cache_backend", cfg.CacheBackend,
		"cache_ttl", cfg.CacheTTL,
		"cdp_url", cfg.GetCDPURL(),
		"launch_browser", cfg.LaunchBrowser(),
		"rate_limit_max", cfg.RateLimitMax,
		"rate_limit_window", cfg.RateLimitWindow,
		"trust_proxy", cfg.TrustProxy,
		"dedupe_inflight", cfg.DedupeInflight,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := netutil.RequireAddrAvailable(cfg.BindAddr()); err != nil {
		slog.Error("bind address unavailable", "addr", cfg.BindAddr(), "error", err)
		os.Exit(1)
	}

	render.ConfigureDialer(cfg.BrowserInsecureTLS)

	var launcher *render.Launcher
	if cfg.LaunchBrowser() {
		launcher = render.NewLauncher(render.LauncherConfig{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
	}

	browser, err := render.Connect(context.Background(), cfg.GetCDPURL())
	if err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		if launcher != nil {
			launcher.Stop()
		}
		os.Exit(1)
	}

	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to configure cache", "backend", cfg.CacheBackend, "error", err)
		browser.Close()
		if launcher != nil {
			launcher.Stop()
		}
		os.Exit(1)
	}

	svc := controller.NewService(
		store,
		capture.NewOrchestrator(browser),
		capture.NewPipeline(imaging.NewCodec()),
		controller.Options{TTL: cfg.CacheTTL, DedupeInflight: cfg.DedupeInflight},
	)
	h := api.NewServer(svc, api.Options{
		CORS:            cfg.CORS,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		TrustProxy:      cfg.TrustProxy,
	})

	srv := &http.Server{Addr: cfg.BindAddr(), Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("screenshot service listening", "addr", cfg.BindAddr(), "docs", "http://"+cfg.BindAddr()+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	browser.Close()
	if launcher != nil {
		launcher.Stop()
	}
	if err := store.Close(); err != nil {
		slog.Warn("cache close failed", "error", err)
	}
	slog.Info("shutdown complete")
}

// newStore builds the configured cache backend. A Redis store gets up to a
// second to finish its first connection attempt before requests arrive.
func newStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheMemory:
		metrics.SetCacheAvailable(true)
		return cache.NewMemoryStore(cfg.CacheMemoryEntries)
	case config.CacheDisk:
		metrics.SetCacheAvailable(true)
		store, err := cache.NewDiskStore(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		if n := store.Prune(); n > 0 {
			slog.Info("pruned expired cache entries", "dir", cfg.CacheDir, "removed", n)
		}
		return store, nil
	case config.CacheNone:
		metrics.SetCacheAvailable(false)
		return cache.NoopStore{}, nil
	}

	store, err := cache.NewRedisStore(cache.RedisConfig{
		URL:                  cfg.RedisURL,
		Prefix:               cfg.CacheKeyPrefix,
		ConnectTimeout:       cfg.CacheConnectTimeout,
		OnAvailabilityChange: metrics.SetCacheAvailable,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if store.WaitReady(ctx) {
		slog.Info("cache connected", "url", cfg.RedisURL, "prefix", cfg.CacheKeyPrefix)
	} else {
		slog.Warn("cache unavailable, serving uncached", "url", cfg.RedisURL)
	}
	return store, nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
