package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"oauth-gateway/internal/api"
	"oauth-gateway/internal/auth"
	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/conf"
	"oauth-gateway/internal/data"
	"oauth-gateway/internal/server"
	"oauth-gateway/internal/service"

	"github.com/joho/godotenv"
)

var flagconf string

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	// load config
	cfg, err := conf.Load(flagconf)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *conf.Config, logger *slog.Logger) error {
	// 手动依赖注入
	// data 层
	store, err := data.NewStore(cfg.Store, cfg.Session.CleanupInterval)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", cfg.Store.Driver)

	// auth 层，OIDC 提供方在这里做 discovery
	discoveryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	registry, err := auth.NewRegistry(discoveryCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	for _, id := range registry.IDs() {
		p := cfg.Providers[id]
		logger.Info("provider registered", "provider", id, "kind", p.GetKind(id), "redirect_url", p.GetRedirectURL(cfg.Server.BaseURL, id))
	}

	if cfg.Cookie.SignKey == "" {
		logger.Warn("cookie.sign_key not set, using a random key; sessions will not survive a restart")
	}
	cookies, err := auth.NewCookies(cfg.Cookie)
	if err != nil {
		return err
	}

	// biz 层
	states := biz.NewStateCodec(store, cfg.Session.PendingTTL)
	sessions := biz.NewSessionManager(store, biz.SessionOptions{
		TTL:             cfg.Session.TTL,
		BindTokenExpiry: cfg.Session.BindTokenExpiry,
	})
	flow := biz.NewFlow(registry, states, sessions, logger)

	// service 层
	authService := service.NewAuthService(flow, registry.IDs())

	// api 层
	authHandler := api.NewAuthHandler(authService, cookies, cfg.Server.SignedInRedirect, cfg.Server.SignedOutRedirect, logger)
	router := api.NewRouter(authHandler, cookies, logger)

	return server.New(cfg.Server, router, logger).Run(ctx)
}

func newLogger(cfg conf.Log) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
