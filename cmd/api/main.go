package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/edgevid/proxy/internal/api/handler"
	"github.com/edgevid/proxy/internal/api/middleware"
	"github.com/edgevid/proxy/internal/config"
	"github.com/edgevid/proxy/internal/configstore"
	"github.com/edgevid/proxy/internal/infrastructure/postgres"
	"github.com/edgevid/proxy/internal/infrastructure/queue"
	"github.com/edgevid/proxy/internal/infrastructure/rediscache"
	"github.com/edgevid/proxy/internal/infrastructure/storage"
	"github.com/edgevid/proxy/internal/infrastructure/upstreamhttp"
	"github.com/edgevid/proxy/internal/infrastructure/variantstore"
	"github.com/edgevid/proxy/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueClient, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	configStore, err := configstore.New(cfg.Origins.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load origins configuration: %w", err)
	}
	logger.Info("loaded origins configuration")

	// Initialize repositories and collaborators
	fallbackEvents := postgres.NewFallbackEventRepository(pgClient.Pool())
	variants := variantstore.New(storageClient, queueClient)
	edgeCache := rediscache.NewEdgeCache(redisClient)
	presignCache := rediscache.NewPresignCache(redisClient)
	versionStore := rediscache.NewVersionStore(redisClient)
	upstream := upstreamhttp.New(cfg.Upstream.RequestTimeout)

	cacheController := usecase.NewCacheController(variants, edgeCache, queueClient)
	fallbackEngine := usecase.NewEngine()

	transformSvc := usecase.NewTransformService(
		configStore,
		versionStore,
		variants,
		cacheController,
		fallbackEngine,
		upstream,
		presignCache,
		edgeCache,
		fallbackEvents,
		cfg.Upstream.Scheme, cfg.Upstream.Host, cfg.Upstream.BasePath,
	)

	transformHandler := handler.NewTransformHandler(transformSvc)

	r := setupRouter(logger, transformHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, transformHandler *handler.TransformHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Every other path is a transform request; C1 does the real routing
	// against the configured patterns, so the HTTP layer owns none of it.
	r.NotFound(transformHandler.ServeHTTP)
	r.Get("/*", transformHandler.ServeHTTP)
	r.Head("/*", transformHandler.ServeHTTP)

	return r
}
