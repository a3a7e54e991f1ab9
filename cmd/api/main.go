package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docchat/backend/internal/api"
	"github.com/docchat/backend/internal/api/handlers"
	"github.com/docchat/backend/internal/cache"
	"github.com/docchat/backend/internal/cache/memory"
	"github.com/docchat/backend/internal/cache/redis"
	"github.com/docchat/backend/internal/chat"
	"github.com/docchat/backend/internal/ingestion"
	"github.com/docchat/backend/internal/llm"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/query"
	"github.com/docchat/backend/internal/registry"
	"github.com/docchat/backend/internal/storage/files"
	"github.com/docchat/backend/internal/storage/sqlite"
	"github.com/docchat/backend/pkg/config"
	appLogger "github.com/docchat/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting document chat API server")

	metrics.Init()

	fileStore := files.NewStore(cfg.Storage.BaseURL)

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, fileStore)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		BatchSize:      cfg.LLM.EmbeddingBatchSize,
	})

	readiness := map[string]handlers.Pinger{"sqlite": sqliteClient}

	ttl := time.Duration(cfg.Cache.TTLSec) * time.Second
	var answerCache cache.Cache
	var invalidator cache.Invalidator
	switch cfg.Cache.Backend {
	case "redis":
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisClient, err := redis.NewClient(addr, cfg.Redis.Password, cfg.Redis.DB, ttl)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		answerCache, invalidator = redisClient, redisClient
		readiness["redis"] = redisClient
	case "none":
		answerCache = cache.Nop{}
	default:
		lru := memory.New(cfg.Cache.Size, ttl)
		answerCache, invalidator = lru, lru
	}
	appLogger.Info("Answer cache configured", zap.String("backend", cfg.Cache.Backend), zap.Duration("ttl", ttl))

	pipeline := ingestion.NewPipeline(ingestion.NewChunker(
		ingestion.WithChunkSize(cfg.RAG.ChunkSize),
		ingestion.WithChunkOverlap(cfg.RAG.ChunkOverlap),
		ingestion.WithChunksPerPage(cfg.RAG.ChunksPerPage),
	))
	indexes := registry.New(sqliteClient, llmClient, pipeline)
	processor := ingestion.NewProcessor(pipeline, llmClient, sqliteClient, fileStore, indexes, ingestion.Config{
		MaxBytes:         cfg.Upload.MaxBytes,
		AllowedMIMETypes: cfg.Upload.AllowedMIMETypes,
	})
	engine := query.NewEngine(indexes, llmClient, llmClient, answerCache, query.Options{
		TopK:          cfg.RAG.TopK,
		ExcerptLength: cfg.RAG.ExcerptLength,
	})
	chatService := chat.NewService(sqliteClient, engine)

	app, limiter := api.NewApp(api.Config{
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:         cfg.Server.BodyLimit,
		AllowOrigins:      cfg.Server.AllowOrigins,
		IsDevelopment:     cfg.Server.IsDevelopment,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		MaxContentLength:  cfg.Chat.MaxContentLength,
		MaxUploadBytes:    cfg.Upload.MaxBytes,
		AccessLog:         true,
	}, api.Handlers{
		Documents: handlers.NewDocumentHandler(processor, sqliteClient, fileStore, indexes, invalidator, cfg.Upload.MaxBytes),
		Chat:      handlers.NewChatHandler(chatService),
		WebSocket: handlers.NewWebSocketHandler(chatService, cfg.Chat.MaxContentLength),
		Health:    handlers.NewHealthHandler(readiness, indexes),
	})
	defer limiter.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
