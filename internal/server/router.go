package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rhizomelab/rhizome-backend/internal/handlers"
	"github.com/rhizomelab/rhizome-backend/internal/middleware"
)

type RouterConfig struct {
	IdentityMiddleware *middleware.IdentityMiddleware
	DetectionHandler   *handlers.DetectionHandler
	ConnectionHandler  *handlers.ConnectionHandler
	FeedbackHandler    *handlers.FeedbackHandler
	WeightsHandler     *handlers.WeightsHandler
	SSEHandler         *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.IdentityMiddleware.RequireUser())
	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.SSEStream)
	protected.POST("/sse/subscribe", cfg.SSEHandler.SSESubscribe)
	protected.POST("/sse/unsubscribe", cfg.SSEHandler.SSEUnsubscribe)

	api := protected.Group("/api")
	// Detection runs
	api.POST("/documents/:id/detect", cfg.DetectionHandler.EnqueueForDocument)
	api.GET("/documents/:id/runs/latest", cfg.DetectionHandler.GetLatestForDocument)
	api.GET("/runs/:id", cfg.DetectionHandler.GetRunByID)
	// Connections
	api.POST("/connections/ranked", cfg.ConnectionHandler.GetRanked)
	api.POST("/connections/:id/feedback", cfg.FeedbackHandler.RecordFeedback)
	// Weights
	api.GET("/weights", cfg.WeightsHandler.GetWeights)
	api.PUT("/weights", cfg.WeightsHandler.UpdateWeights)
	api.POST("/weights/tune", cfg.WeightsHandler.TuneNow)

	return router
}
