package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/config"
	handler "github.com/Lemmeyg/howtobuddy2-sub001/internal/delivery/http"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/events"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/orchestrator"
	providerrest "github.com/Lemmeyg/howtobuddy2-sub001/internal/provider/rest"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/registry"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository/postgres"
	redisrepo "github.com/Lemmeyg/howtobuddy2-sub001/internal/repository/redis"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/usecase"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/webhook"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting transcription orchestrator")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Initialize RabbitMQ status publisher
	statusPub, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
	}
	defer statusPub.Close()
	logger.Info("Connected to RabbitMQ")

	// Initialize adapters
	jobStore := postgres.NewPostgresJobStore(dbPool)
	claimLock := redisrepo.NewRedisClaimLock(redisClient)
	transcriber := providerrest.NewClient(providerrest.Config{
		BaseURL:       cfg.Provider.BaseURL,
		BearerToken:   cfg.Provider.BearerToken,
		WebhookSecret: cfg.Provider.WebhookSecret,
	})

	// Shared in-process state
	jobCache := cache.New()
	reg := registry.New(cfg.Registry.HeartbeatInterval, cfg.Registry.WriteTimeout, logger)
	broadcaster := events.NewFanout(logger, reg, statusPub)

	// Core components
	orch := orchestrator.New(jobStore, claimLock, transcriber, broadcaster, jobCache, cfg.Worker, logger)
	ingestor := webhook.NewIngestor(jobStore, transcriber, broadcaster, jobCache, logger)

	// Use cases
	submitUC := usecase.NewSubmitJobUsecase(jobStore, logger)
	getJobUC := usecase.NewGetJobUsecase(jobStore, jobCache, cfg.Cache.JobTTL, logger)

	// Background loops
	go reg.Start(ctx)
	go orch.Start(ctx)

	// Initialize router
	router := handler.NewRouter(&handler.RouterDeps{
		SubmitUC:          submitUC,
		GetJobUC:          getJobUC,
		Ingestor:          ingestor,
		Registry:          reg,
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		Logger:            logger,
		RateLimitPerMin:   cfg.Server.RateLimit,
		DBPool:            dbPool,
		Redis:             redisClient,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
