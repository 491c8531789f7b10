package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/auth"
	"github.com/pelusa-v/pelusa-chat.git/internal/chat"
	"github.com/pelusa-v/pelusa-chat.git/internal/config"
	"github.com/pelusa-v/pelusa-chat.git/internal/handlers"
	"github.com/pelusa-v/pelusa-chat.git/internal/logging"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
	"github.com/pelusa-v/pelusa-chat.git/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml/json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flush()

	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := chat.NewMetrics(prometheus.DefaultRegisterer)
	authn := auth.NewAuthenticator(auth.NewTokens(secret, cfg.Auth.TokenTTL), st)
	relay := chat.NewRelay(st, st, logger.Named("relay"))
	hub := chat.NewManager(relay, st, chat.Options{
		Logger:     logger.Named("hub"),
		Metrics:    metrics,
		SendBuffer: cfg.Socket.SendBuffer,
	})
	defer hub.Close()
	h := handlers.New(st, authn, hub, metrics, logger.Named("http"))

	app := fiber.New(fiber.Config{
		AppName:               "pelusa-chat",
		ErrorHandler:          h.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.ClientOrigin,
		AllowCredentials: true,
	}))
	if cfg.Metrics.Enabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	h.Mount(app)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat server listening", zap.String("addr", cfg.ListenAddress))
		errCh <- app.Listen(cfg.ListenAddress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGracePeriod))
	if err := app.ShutdownWithTimeout(cfg.ShutdownGracePeriod); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return nil
}
