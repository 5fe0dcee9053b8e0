package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deskbot/internal/cache"
	"deskbot/internal/config"
	"deskbot/internal/dispatch"
	"deskbot/internal/graph"
	"deskbot/internal/handlers"
	"deskbot/internal/llm"
	"deskbot/internal/metrics"
	"deskbot/internal/repo"
	"deskbot/internal/wa"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(cfg.MetricsNamespace, registry)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database pool failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	repository := repo.New(pool)

	redisCache, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TLS:      cfg.RedisTLS,
	})
	if err != nil {
		// Lookup caching and rate limits degrade gracefully without redis.
		logger.Warn("redis unavailable, continuing without cache", "error", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	llmClient := llm.New(logger, m, llm.Config{
		APIKey:  cfg.GroqAPIKey,
		Model:   cfg.GroqModel,
		Timeout: cfg.GroqTimeout,
	})

	graphClient := graph.New(logger, m, graph.Config{
		TenantID:     cfg.AzureTenantID,
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		Timeout:      cfg.GraphTimeout,
	})

	engine := dispatch.New(llmClient, repository, graphClient, repository, redisCache, m, logger, cfg.LookupCacheTTL)

	gateway, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
	}, repository, engine, logger)
	if err != nil {
		logger.Error("whatsapp gateway init failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := gateway.Connect(ctx); err != nil {
			logger.Error("whatsapp connect failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           handlers.NewRouter(engine, logger, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	gateway.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
