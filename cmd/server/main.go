package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"matchvideo-backend/internal/api"
	"matchvideo-backend/internal/config"
	"matchvideo-backend/internal/reconcile"
	"matchvideo-backend/internal/relay"
	"matchvideo-backend/internal/session"
	"matchvideo-backend/internal/store"
	"matchvideo-backend/internal/youtube"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ytClient := youtube.NewAPIClient(
		cfg.YouTubeClientID, cfg.YouTubeClientSecret,
		cfg.YouTubeRefreshToken, cfg.YouTubeChannelID,
	)
	if !ytClient.Configured() {
		logger.Warn("youtube credentials missing; uploads will be rejected at initiate")
	}

	sessions := session.NewService(db, ytClient, cfg.SessionTTL, cfg.PendingCacheTTL, logger)
	reconciler := reconcile.NewService(db, ytClient, logger)

	limiter := relay.NewRateLimiter(rate.Limit(cfg.RelayRate), cfg.RelayBurst)
	defer limiter.Stop()
	chunkRelay := relay.New(db, limiter, logger)

	handler := api.NewHandler(cfg, sessions, reconciler, chunkRelay, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
		// Chunk proxying holds connections open for as long as a full
		// chunk takes to reach YouTube, so write timeouts stay generous.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("match video service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down match video service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
