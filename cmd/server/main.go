package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/openxui/panelsync/internal/api"
	"github.com/openxui/panelsync/internal/auth"
	"github.com/openxui/panelsync/internal/cache"
	"github.com/openxui/panelsync/internal/config"
	"github.com/openxui/panelsync/internal/database"
	"github.com/openxui/panelsync/internal/xui"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting panelsync API server")

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize stores
	jobStore := database.NewJobStore(db)
	integrationStore := database.NewIntegrationStore(db)
	userStore := database.NewUserStore(db)

	// Shared pool of tenant panel connections
	registry := xui.NewRegistry(xui.PoolConfig{
		ConnMaxLifetime: cfg.XUIConnMaxLifetime,
		MaxIdleConns:    cfg.XUIConnMaxIdle,
		MaxOpenConns:    cfg.XUIConnMaxOpen,
	}, logger)
	defer registry.Close()

	catalogCache := cache.New(cfg.CacheTTL)
	panels := api.NewPanelReader(registry, catalogCache, logger)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenExpiry)

	handler := api.NewHandler(jobStore, integrationStore, userStore, panels, tokens, db, logger)
	router := api.SetupRoutes(handler, tokens)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
