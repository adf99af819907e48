package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"memochat/internal/app"
	"memochat/internal/config"
	"memochat/internal/server"
	"memochat/internal/util"
	"memochat/pkg/ai"
	"memochat/pkg/cache"
	"memochat/pkg/chunker"
	"memochat/pkg/queue"
	"memochat/pkg/storage"
	"memochat/pkg/store"
	"memochat/pkg/vector"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	relational, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init database", "err", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		util.Fatal("failed to init embedder", "err", err)
	}
	index, err := buildVectorStore(cfg, embedder)
	if err != nil {
		util.Fatal("failed to init vector store", "err", err)
	}
	defer index.Close()

	primary, err := ai.NewOpenAIChat(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.PrimaryModel)
	if err != nil {
		util.Fatal("failed to init primary model", "err", err)
	}
	appCfg := app.Config{
		Store:           relational,
		Vector:          index,
		Primary:         primary,
		TemplateVersion: app.TemplateVersion(cfg.PromptTemplateVersion),
		TopK:            cfg.TopK,
		ContextCap:      cfg.ContextLimit,
		HistoryLimit:    cfg.HistoryLimit,
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}
	if cfg.FallbackModel != "" {
		fallback, err := ai.NewOpenAIChat(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.FallbackModel)
		if err != nil {
			util.Fatal("failed to init fallback model", "err", err)
		}
		appCfg.Fallback = fallback
	}
	if cfg.ChunkSize > 0 {
		appCfg.Chunker = chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	}

	if cfg.MinioEndpoint != "" {
		images, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init image store", "err", err)
		}
		appCfg.Images = images
	}
	if cfg.AMQPURL != "" {
		events, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		defer events.Close()
		appCfg.Events = events
	}
	if cfg.RedisAddr != "" {
		answers, err := cache.NewRedisAnswerCache(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			util.Fatal("failed to init answer cache", "err", err)
		}
		appCfg.Answers = answers
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer := server.New(server.Config{App: appCore})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("chat server listening", "addr", addr, "vectorBackend", cfg.VectorBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildEmbedder(cfg config.FileConfig) (vector.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		return ai.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	default:
		return ai.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	}
}

func buildVectorStore(cfg config.FileConfig, embedder vector.Embedder) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vector.NewQdrantStore(cfg.QdrantAddr, cfg.QdrantCollection, cfg.EmbeddingDimensions, embedder)
	case "memory":
		return vector.NewMemoryStore(embedder), nil
	default:
		return vector.NewPgvectorStore(cfg.DatabaseURL, cfg.EmbeddingDimensions, embedder)
	}
}
