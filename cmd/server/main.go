// Frontdesk HITL - human-in-the-loop escalation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frontdesk/hitl/internal/api"
	"github.com/frontdesk/hitl/internal/config"
	"github.com/frontdesk/hitl/internal/escalation"
	"github.com/frontdesk/hitl/internal/knowledge"
	"github.com/frontdesk/hitl/internal/middleware"
	"github.com/frontdesk/hitl/internal/notify"
	"github.com/frontdesk/hitl/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"timeout_window", cfg.TimeoutWindow,
		"sweep_interval", cfg.SweepInterval,
		"dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	hub := notify.NewHub()
	kb := knowledge.NewManager(repo)
	svc := escalation.NewService(repo, kb, hub, cfg.TimeoutWindow)

	// Seed the knowledge base if a seed file is configured.
	if cfg.KBSeedPath != "" {
		entries, err := knowledge.LoadSeedFile(cfg.KBSeedPath)
		if err != nil {
			slog.Error("Failed to load knowledge base seed", "path", cfg.KBSeedPath, "error", err)
			os.Exit(1)
		}
		if err := kb.Seed(context.Background(), entries); err != nil {
			slog.Error("Failed to seed knowledge base", "error", err)
			os.Exit(1)
		}
	}

	// Initialize handlers.
	handler := api.NewHandler(svc, kb, hub)
	wsHandler := api.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	// WebSocket event channel for the supervisor dashboard.
	r.Get("/ws/supervisor", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub.Start(ctx)
	escalation.StartSweeper(ctx, svc, cfg.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
