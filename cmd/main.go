package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/adapters/llm"
	"github.com/satriahrh/bidstream/adapters/memory"
	"github.com/satriahrh/bidstream/adapters/mongo"
	"github.com/satriahrh/bidstream/adapters/redis"
	"github.com/satriahrh/bidstream/adapters/stt"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/api"
	"github.com/satriahrh/bidstream/internal/auth"
	"github.com/satriahrh/bidstream/internal/config"
	"github.com/satriahrh/bidstream/internal/metrics"
	"github.com/satriahrh/bidstream/internal/saga"
	"github.com/satriahrh/bidstream/internal/saga/submission"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/websocket"
	"github.com/satriahrh/bidstream/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize adapters
	llmService, err := newLLM(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM", zap.Error(err))
	}
	speechToText, err := newSpeechToText(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech-to-text", zap.Error(err))
	}

	users := memory.NewUserRepository(memory.SeedUsers())
	projects := memory.NewProjectRepository(memory.SeedProjects())

	var requests repositories.ProposalRequestRepository = memory.NewProposalRequestRepository()
	var proposals repositories.ProposalRepository = memory.NewProposalRepository()
	if cfg.Store == config.StoreMongo {
		client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())

		repo := mongo.NewProposalRequestRepository(client.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Fatal("Failed to create MongoDB indexes", zap.Error(err))
		}
		requests = repo

		proposalRepo := mongo.NewProposalRepository(client.Database, logger)
		if err := proposalRepo.EnsureIndexes(ctx); err != nil {
			logger.Fatal("Failed to create MongoDB indexes", zap.Error(err))
		}
		proposals = proposalRepo
	}

	var intentStore repositories.IntentStore = memory.NewIntentStore()
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer client.Close()
		intentStore = redis.NewIntentStore(client, redis.WithTTL(cfg.IntentStoreTTL))
		logger.Info("Voice intents shared through Redis", zap.String("addr", cfg.RedisAddr))
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, 0)
	if err != nil {
		logger.Fatal("Failed to initialize token issuer", zap.Error(err))
	}

	// Initialize usecase services
	m := metrics.New()
	generation := usecase.NewGenerationService(llmService, projects, requests, logger)
	intents := usecase.NewIntentService(speechToText, llmService, cfg.SpeechLanguage, logger)
	classifier := usecase.NewClassificationService(llmService, users, projects, requests, usecase.ClassificationConfig{
		MinConfidence:      cfg.MatchMinConfidence,
		ExplicitConfidence: cfg.ExplicitConfidence,
	}, logger)

	sagas := saga.NewManager(logger)
	sagas.Observe(func(event saga.Event) {
		switch event.Type {
		case saga.EventSagaCompleted:
			m.Submission("completed")
		case saga.EventSagaCompensated:
			m.Submission("compensated")
		}
	})
	submissions := submission.NewService(sagas, requests, projects, classifier, logger)
	proposalService := usecase.NewProposalService(proposals, requests, logger)

	// Initialize the stream broker and its cleanup
	broker := stream.NewBroker(stream.NewGeneratorRegistry(generation), stream.BrokerConfig{
		ReplayTTL:   cfg.StreamReplayTTL,
		MaxDuration: cfg.StreamMaxTime,
	}, m, logger)
	cleanup := stream.NewCleanupService(broker, time.Minute, logger)
	cleanup.Start()

	// Initialize WebSocket hub
	hub := websocket.NewHub(broker, logger)
	go hub.Run()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:         hub,
		Broker:      broker,
		Issuer:      issuer,
		Users:       users,
		Projects:    projects,
		Requests:    requests,
		IntentStore: intentStore,
		Intents:     intents,
		Classifier:  classifier,
		Submissions: submissions,
		Proposals:   proposalService,
		Metrics:     m,
		Logger:      logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("llm", cfg.LLMProvider),
		zap.String("stt", cfg.STTProvider),
		zap.String("store", cfg.Store))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	hub.Shutdown()
	cleanup.Stop()
	broker.Shutdown()

	logger.Info("Server exited")
}

func newLLM(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, logger)
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}, logger)
	default:
		logger.Warn("Using the mock LLM")
		return llm.NewMockLLM(), nil
	}
}

func newSpeechToText(cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch cfg.STTProvider {
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(logger), nil
	case config.ProviderElevenLabs:
		return stt.NewElevenLabsSTT(stt.ElevenLabsConfig{APIKey: cfg.ElevenLabsAPIKey}, logger)
	default:
		logger.Warn("Using the mock speech-to-text")
		return stt.NewMockSpeechToText(logger), nil
	}
}
