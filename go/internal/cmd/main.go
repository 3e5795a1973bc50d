package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	setupLogging(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("setup services")
	}
	defer services.Close()

	if err := services.Worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start outbox worker")
	}
	go services.Gateway.Start(ctx)

	server := setupServer(services)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server exited unexpectedly")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	// Session actors flush their pending records before Wait returns.
	services.Registry.Wait()
	if err := services.Worker.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop outbox worker")
	}
	services.Worker.ProcessOnce(shutdownCtx)
	log.Info().Msg("graceful shutdown complete")
}

func setupLogging(level, format string) {
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
