package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/auth"
	"github.com/Tyrowin/dmchat/internal/config"
	"github.com/Tyrowin/dmchat/internal/messaging"
	"github.com/Tyrowin/dmchat/internal/server"
	"github.com/Tyrowin/dmchat/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	st, backend, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	logger.Info().Str("backend", backend).Msg("store ready")

	limiter, closeLimiter, err := server.NewLimiter(ctx, cfg.RedisURL, cfg.RateLimit)
	if err != nil {
		_ = st.Close()
		logger.Fatal().Err(err).Msg("failed to create rate limiter")
	}

	hub := server.NewHub(logger)
	go hub.Run()

	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL)
	router := messaging.NewRouter(st, hub, logger)
	handler := server.NewHandler(server.Deps{
		Config:  cfg,
		Store:   st,
		Tokens:  tokens,
		Router:  router,
		Hub:     hub,
		Limiter: limiter,
		Logger:  logger,
	})

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handler))

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting dmchat server")
		serverErr <- server.StartServer(httpServer, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server...")
		if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
			exitCode = 1
		}
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			exitCode = 1
		}
	}

	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}
	if err := closeLimiter(); err != nil {
		logger.Warn().Err(err).Msg("failed to close rate limiter")
	}
	if err := st.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}

	logger.Info().Msg("server stopped")
	os.Exit(exitCode)
}
