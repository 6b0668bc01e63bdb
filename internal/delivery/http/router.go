package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/delivery/http/middleware"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/registry"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/usecase"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/webhook"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// RouterDeps bundles everything the router needs.
type RouterDeps struct {
	SubmitUC          *usecase.SubmitJobUsecase
	GetJobUC          *usecase.GetJobUsecase
	Ingestor          *webhook.Ingestor
	Registry          *registry.Registry
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
	RateLimitPerMin   int
	DBPool            *pgxpool.Pool
	Redis             *goredis.Client
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.BodySizeLimit(maxRequestBodyBytes))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check (no rate limiting)
		healthHandler := NewHealthHandler(deps.DBPool, deps.Redis, deps.Logger)
		v1.GET("/health", healthHandler.Health)

		// Jobs (with rate limiting)
		jobHandler := NewJobHandler(deps.SubmitUC, deps.GetJobUC, deps.Logger)
		limited := v1.Group("", middleware.RateLimiter(deps.RateLimitPerMin))
		limited.POST("/jobs", jobHandler.Submit)
		limited.GET("/jobs/:id", jobHandler.GetByID)

		// Provider callbacks (idempotent, provider retries on failure)
		webhookHandler := NewWebhookHandler(deps.Ingestor, deps.Logger)
		v1.POST("/webhooks/transcription", webhookHandler.Receive)

		// WebSocket for real-time updates
		wsHandler := NewWebSocketHandler(deps.Registry, deps.HeartbeatInterval, deps.Logger)
		v1.GET("/ws", wsHandler.Stream)
	}

	return router
}
