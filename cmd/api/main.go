package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/api/handlers"
	"github.com/dvloznov/sheets-wallet/internal/api/middleware"
	"github.com/dvloznov/sheets-wallet/internal/app"
	"github.com/dvloznov/sheets-wallet/internal/config"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/jobs"
	"github.com/dvloznov/sheets-wallet/internal/jobs/inmemory"
	"github.com/dvloznov/sheets-wallet/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("WALLET_CONFIG"), "Path to YAML config file (or set WALLET_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
		noSync     = flag.Bool("no-sync", false, "Disable the periodic background sync")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	// Initialize logger
	log := logger.NewWithFormat(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open wallet")
	}
	defer a.Close()

	period, err := domain.ParsePeriod(cfg.Sync.Period)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sync period")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Sync.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Sync.Workers),
		inmemory.WithBackoff(cfg.Sync.Backoff),
		inmemory.WithLogger(logger.Component(log, "jobs")),
	)

	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewSyncHandler(a.Wallet)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	if !*noSync {
		scheduler := &jobs.Scheduler{
			Publisher:  jobQueue,
			Interval:   cfg.Sync.Interval,
			Period:     period,
			MaxRetries: cfg.Sync.MaxRetries,
			Log:        logger.Component(log, "scheduler"),
		}
		go func() {
			if err := scheduler.Run(workerCtx); err != nil {
				log.Error().Err(err).Msg("Sync scheduler stopped")
			}
		}()
	}

	mux := handlers.NewRouter(handlers.Deps{
		Wallet:     a.Wallet,
		Publisher:  jobQueue,
		Jobs:       jobStore,
		SyncPeriod: period,
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(log)(
				middleware.CORS(
					middleware.Auth(cfg.API.Token)(mux),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.API.Port).
			Bool("connected", a.Initial.Connected).
			Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
