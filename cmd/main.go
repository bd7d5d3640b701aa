package main

import (
	"context"
	"fmt"
	neo4jclient "github.com/rhizomelab/rhizome-backend/internal/clients/neo4j"
	redisbus "github.com/rhizomelab/rhizome-backend/internal/clients/redis"
	"github.com/rhizomelab/rhizome-backend/internal/db"
	"github.com/rhizomelab/rhizome-backend/internal/handlers"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/middleware"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/server"
	"github.com/rhizomelab/rhizome-backend/internal/services"
	"github.com/rhizomelab/rhizome-backend/internal/sse"
	"github.com/rhizomelab/rhizome-backend/internal/utils"
	"os"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	chunkRepo := repos.NewChunkRepo(thePG, log)
	connectionRepo := repos.NewConnectionRepo(thePG, log)
	detectionRunRepo := repos.NewDetectionRunRepo(thePG, log)
	weightConfigRepo := repos.NewWeightConfigRepo(thePG, log)
	weightContextRepo := repos.NewWeightContextRepo(thePG, log)
	feedbackRepo := repos.NewFeedbackRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Progress bus (optional; single-instance deployments fall back to the
	// local hub)
	var progressBus redisbus.ProgressBus
	if os.Getenv("REDIS_ADDR") != "" {
		progressBus, err = redisbus.NewProgressBus(log)
		if err != nil {
			log.Error("Could not init redis progress bus", "error", err)
			os.Exit(1)
		}
		if err := progressBus.StartForwarder(context.Background(), func(m sse.SSEMessage) {
			sseHub.Broadcast(m)
		}); err != nil {
			log.Error("Could not start progress forwarder", "error", err)
			os.Exit(1)
		}
	}

	// Graph mirror (optional)
	graphClient, err := neo4jclient.NewFromEnv(log)
	if err != nil {
		log.Warn("Could not init neo4j graph client", "error", err)
	}

	// Services
	log.Info("Setting up Services from main...")
	weightConfigService := services.NewWeightConfigService(thePG, log, weightConfigRepo)
	rankingService := services.NewRankingService(thePG, log, connectionRepo, weightContextRepo, weightConfigService)
	feedbackService := services.NewFeedbackService(thePG, log, connectionRepo, feedbackRepo, weightContextRepo)
	weightTunerService := services.NewWeightTunerService(thePG, log, connectionRepo, feedbackRepo, weightContextRepo, weightConfigService, sseHub, progressBus)
	detectionService := services.NewDetectionService(
		thePG,
		log,
		chunkRepo,
		connectionRepo,
		detectionRunRepo,
		weightContextRepo,
		weightConfigService,
		sseHub,
		progressBus,
		graphClient,
	)
	detectionService.StartWorker(context.Background())
	weightTunerService.StartScheduler(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	detectionHandler := handlers.NewDetectionHandler(detectionService)
	connectionHandler := handlers.NewConnectionHandler(rankingService)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService)
	weightsHandler := handlers.NewWeightsHandler(weightConfigService, weightTunerService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Middleware
	log.Info("Setting up middleware from main...")
	identityMiddleware := middleware.NewIdentityMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		IdentityMiddleware: identityMiddleware,
		DetectionHandler:   detectionHandler,
		ConnectionHandler:  connectionHandler,
		FeedbackHandler:    feedbackHandler,
		WeightsHandler:     weightsHandler,
		SSEHandler:         sseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
