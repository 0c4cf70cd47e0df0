package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/sv-explore/internal/api"
	"github.com/ashureev/sv-explore/internal/config"
	"github.com/ashureev/sv-explore/internal/flow"
	"github.com/ashureev/sv-explore/internal/identity"
	"github.com/ashureev/sv-explore/internal/metrics"
	"github.com/ashureev/sv-explore/internal/middleware"
	"github.com/ashureev/sv-explore/internal/session"
	"github.com/ashureev/sv-explore/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	pool, err := store.OpenPool(ctx, store.PoolConfig{
		DSN:            cfg.Database.DSN(),
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		ConnLifetime:   cfg.Database.ConnLifetime,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			slog.Error("Failed to close connection pool", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "max_conns", cfg.Database.MaxConns, "min_conns", cfg.Database.MinConns)

	users, err := store.NewUsers(pool)
	if err != nil {
		return err
	}
	conversations, err := store.NewConversations(pool)
	if err != nil {
		return err
	}

	m := metrics.New()
	m.RegisterPool(pool.Stats)

	opts := []session.Option{session.WithMetrics(m), session.WithLogger(logger)}
	if cfg.FlowEnabled() {
		client, err := flow.NewClient(flow.Config{
			BaseURL:  cfg.Flow.BaseURL,
			Endpoint: cfg.Flow.Endpoint,
			APIKey:   cfg.Flow.APIKey,
			Timeout:  cfg.Flow.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("init flow client: %w", err)
		}
		opts = append(opts, session.WithRunner(client))
		slog.Info("Flow client initialized", "endpoint", cfg.Flow.Endpoint, "timeout", cfg.Flow.Timeout)
	} else {
		slog.Info("Chat disabled (BASE_API_URL or ENDPOINT not set)")
	}

	sessions, err := session.NewService(users, conversations, opts...)
	if err != nil {
		return err
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(sessions, cfg.IsDevelopment())
	chatHandler := api.NewChatHandler(baseHandler, limiter)
	healthHandler := api.NewHealthHandler(pool, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware)

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	baseHandler.RegisterRoutes(r, chatHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Flow.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start idle sweeper.
	session.StartIdleSweeper(ctx, users, cfg.IdleAfter)

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}
