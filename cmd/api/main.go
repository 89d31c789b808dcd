package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mealgen/internal/bootstrap"
	"mealgen/internal/healing"
	"mealgen/internal/http/httpapi"
	"mealgen/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	snapCtx, stopSnapshots := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		rt.Snapshotter.Run(snapCtx)
	}()

	var healer *healing.Healer
	if cfg.HealingEnabled {
		healer = healing.New(healing.ConfigFromInfra(cfg), rt.Jobs, rt.Orchestrator, logger)
		if err := healer.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: healing schedule invalid")
		}
	}

	app := &httpapi.App{
		Jobs:     rt.Orchestrator,
		Progress: rt.Tracker,
		Usage:    rt.Ledger,
		Breakers: rt.Orchestrator.Breakers(),
		Logger:   logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       rt.StaticDir,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if healer != nil {
		healer.Stop()
	}
	// Interrupted jobs stay non-terminal; the next healing sweep resumes them.
	if err := rt.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: orchestrator did not drain")
	}
	stopSnapshots()
	<-snapDone
	logger.Info().Msg("server stopped")
}
