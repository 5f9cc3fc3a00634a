package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/bmcmon/internal/config"
	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/logger"
	"codeberg.org/mutker/bmcmon/internal/notify"
	"codeberg.org/mutker/bmcmon/internal/poll"
	"codeberg.org/mutker/bmcmon/internal/secret"
	"codeberg.org/mutker/bmcmon/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel == "debug", cfg.LogLevel == "info", logger.IsService())
	applyLogLevel(cfg.LogLevel)
	logger.Debug().Msg("Config loaded")
}

func main() {
	resolver, err := secret.NewResolver(cfg.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secret resolver")
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Str("database", cfg.Database).Msg("failed to open database")
	}

	dispatcher := notify.NewDispatcher(db.Channels, resolver,
		notify.WithSendTimeout(time.Duration(cfg.NotifyTimeout)*time.Second))

	evaluator := poll.NewEvaluator(db.Entities, db.Alerts, resolver, dispatcher,
		poll.WithCommandTimeout(time.Duration(cfg.CommandTimeout)*time.Second))

	orchestrator := poll.NewOrchestrator(db.Entities, db.Alerts, evaluator, dispatcher,
		poll.WithDefaultPollInterval(time.Duration(cfg.PollInterval)*time.Second))

	monitor := poll.NewStalenessMonitor(db.Entities, db.Alerts, dispatcher,
		poll.WithSweepInterval(time.Duration(cfg.StalenessInterval)*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start polling")
	}
	go monitor.Run(ctx)
	go serveMetrics(ctx)

	<-ctx.Done()

	orchestrator.Stop()
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close database")
	}
	logger.Info().Msg("Exiting...")
}

func applyLogLevel(level string) {
	switch level {
	case "warning":
		logger.SetLogLevel(logger.WarnLevel)
	case "error":
		logger.SetLogLevel(logger.ErrorLevel)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", cfg.ListenAddress).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics endpoint failed")
	}
}
