package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"questchat/internal/cache"
	"questchat/internal/config"
	"questchat/internal/discovery"
	"questchat/internal/httpserver"
	"questchat/internal/jobs"
	"questchat/internal/logging"
	"questchat/internal/metrics"
	"questchat/internal/repo"
	"questchat/internal/whop"
	"questchat/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting questchat", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Repository
	if cfg.DatabaseURL != "" {
		pg, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		store = pg
	} else {
		lite, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		store = lite
		logger.Warn("running on local sqlite store", "path", cfg.SQLitePath)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var channelCache discovery.ChannelCache
	if cfg.RedisAddr != "" {
		redisCache := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, continuing without cache", "err", err)
		} else {
			channelCache = redisCache
		}
	}

	platform := whop.New(whop.Config{
		BaseURL:     cfg.WhopBaseURL,
		APIKey:      cfg.WhopAPIKey,
		AppID:       cfg.WhopAppID,
		AgentUserID: cfg.WhopAgentUserID,
		Timeout:     cfg.WhopTimeout,
	}, logger, metricRegistry)

	engine := jobs.New(store, platform, platform, metricRegistry, logger)
	resolver := discovery.New(store, channelCache, platform, logger)

	router := httpserver.NewRouter(httpserver.Options{
		Store:         store,
		Jobs:          engine,
		Resolver:      resolver,
		SigningSecret: cfg.SigningSecret,
		AdminToken:    cfg.AdminToken,
		BasePath:      cfg.PublicBasePath,
		Logger:        logger,
	})
	server := httpserver.New(cfg.HTTPListenAddr, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
