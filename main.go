package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/answerdesk/answerdesk/config"
	"github.com/answerdesk/answerdesk/controllers"
	"github.com/answerdesk/answerdesk/evaluation"
	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/pipeline"
	"github.com/answerdesk/answerdesk/services"
	"github.com/answerdesk/answerdesk/storage"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "evaluate" {
		// usage: go run main.go evaluate <workspace_id>
		runEvaluation()
		return
	}

	runServer()
}

func runServer() {
	cfg := config.Load()

	lg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, blobs, err := buildStores(cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize storage", "error", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			lg.Warn("failed to close store", "error", err)
		}
	}()

	embedder := services.NewEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel, cfg.EmbeddingDimensions, lg)
	generator := services.NewGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.Temperature, cfg.MaxTokens, lg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := embedder.Ping(pingCtx); err != nil {
		lg.Warn("embedding provider unreachable, ingestion will store placeholder vectors", "error", err)
	}
	if err := generator.Ping(pingCtx); err != nil {
		lg.Warn("generation provider unreachable, chat will use canned replies", "error", err)
	}
	cancel()

	chunker := services.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	retriever := services.NewRetriever(store, embedder)
	responder := services.NewResponder(retriever, generator, store, cfg.TopK, lg)

	pipe := pipeline.New(store, chunker, embedder, cfg.WorkerConcurrency, cfg.QueueSize, lg)
	pipe.Start(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	ragController := controllers.NewRAGController(cfg, store, blobs, pipe, responder, lg)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "answerdesk",
		})
	})

	api := router.Group("/api")
	{
		ws := api.Group("/workspaces/:workspace_id")
		ws.POST("/documents", ragController.UploadDocument)
		ws.GET("/documents", ragController.ListDocuments)
		ws.DELETE("/documents/:document_id", ragController.DeleteDocument)
		ws.POST("/chat", ragController.Chat)
		ws.POST("/chat/stream", ragController.ChatStream)
		ws.GET("/conversations/:conversation_id/messages", ragController.ListMessages)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		lg.Info("server starting",
			"addr", srv.Addr,
			"store", cfg.StoreDriver,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("forced shutdown", "error", err)
	}
	pipe.Stop()
}

// buildStores selects the persistence backend. The memory driver keeps
// everything in-process for local development without a MongoDB.
func buildStores(cfg *config.Config, lg *logger.Logger) (storage.Store, storage.BlobStore, error) {
	if cfg.StoreDriver == "memory" {
		lg.Warn("using in-memory store, data will not survive restarts")
		return storage.NewMemoryStore(), storage.NewMemoryBlobStore(), nil
	}

	mongoStore, err := storage.NewMongoStore(cfg, lg)
	if err != nil {
		return nil, nil, err
	}
	blobs, err := storage.NewGridFSBlobStore(mongoStore.Database(), lg)
	if err != nil {
		return nil, nil, err
	}
	return mongoStore, blobs, nil
}

func runEvaluation() {
	cfg := config.Load()

	lg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	if len(os.Args) < 3 {
		log.Fatalf("usage: %s evaluate <workspace_id>", os.Args[0])
	}
	workspaceID := os.Args[2]

	store, _, err := buildStores(cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize storage", "error", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	embedder := services.NewEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel, cfg.EmbeddingDimensions, lg)
	generator := services.NewGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.Temperature, cfg.MaxTokens, lg)
	retriever := services.NewRetriever(store, embedder)

	datasetPath := "evaluation/dataset.json"
	questions, err := evaluation.LoadDataset(datasetPath)
	if err != nil {
		lg.Fatal("failed to load dataset", "path", datasetPath, "error", err)
	}
	lg.Info("dataset loaded", "questions", len(questions), "path", datasetPath)

	evaluator := evaluation.NewEvaluator(cfg, retriever, generator)
	report, err := evaluator.Evaluate(questions, workspaceID)
	if err != nil {
		lg.Fatal("evaluation failed", "error", err)
	}

	evaluation.PrintSummary(report)

	outputFile := "evaluation/results/baseline.json"
	if err := evaluation.SaveReport(report, outputFile); err != nil {
		lg.Fatal("failed to save report", "path", outputFile, "error", err)
	}
	lg.Info("evaluation complete", "report", outputFile)
}
