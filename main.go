package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llm-webapp/handlers"
	"llm-webapp/services"
	"llm-webapp/store"
	"llm-webapp/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := services.ConfigFromEnv()
	if err != nil {
		logger.Fatal("invalid LLM configuration", zap.Error(err))
	}

	// Wire dependencies: gateway, store, service, handler.
	client := services.NewOllamaClient(cfg, logger)
	defer client.Close()

	conversations := store.NewConversationStore()
	chatService := workflows.NewChatService(client, conversations, cfg, logger)
	chatHandler := handlers.NewChatHandler(chatService, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/chat", chatHandler.Chat)
		api.POST("/chat/legacy", chatHandler.ChatLegacy)
		api.POST("/analyze", chatHandler.Analyze)
		api.POST("/structured-output", chatHandler.StructuredOutput)
	}
	router.GET("/health", chatHandler.Health)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server",
			zap.String("port", port),
			zap.String("llm_base_url", cfg.BaseURL),
			zap.String("model", cfg.ModelName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
