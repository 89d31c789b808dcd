package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mealgen/internal/bootstrap"
	"mealgen/internal/healing"
	"mealgen/internal/infra"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and wait for resumed jobs before exiting")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()
	if cfg.JobStore == "memory" {
		logger.Warn().Msg("worker: JOB_STORE=memory shares nothing with the API; nothing to heal")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	snapCtx, stopSnapshots := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		rt.Snapshotter.Run(snapCtx)
	}()
	defer func() {
		stopSnapshots()
		<-snapDone
	}()

	healer := healing.New(healing.ConfigFromInfra(cfg), rt.Jobs, rt.Orchestrator, logger)
	if *once {
		report := healer.Sweep(ctx)
		logger.Info().Int("resumed", report.Resumed).Msg("worker: single sweep done")
		drain(ctx, rt, logger)
		return
	}

	if err := healer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: healing schedule invalid")
	}
	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")
	healer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: orchestrator did not drain")
	}
}

// drain waits for resumed jobs to finish, or interrupts them on signal.
func drain(ctx context.Context, rt *bootstrap.Runtime, logger infra.Logger) {
	for _, snap := range rt.Tracker.Active() {
		if snap.Terminal {
			continue
		}
		if _, err := rt.Orchestrator.Wait(ctx, snap.JobID); err != nil {
			logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("worker: wait interrupted")
			break
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: orchestrator did not drain")
	}
}
