package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/app"
	"github.com/dvloznov/sheets-wallet/internal/config"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/jobs"
	"github.com/dvloznov/sheets-wallet/internal/jobs/inmemory"
	"github.com/dvloznov/sheets-wallet/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("WALLET_CONFIG"), "Path to YAML config file (or set WALLET_CONFIG env)")
		interval   = flag.Duration("interval", 0, "Sync interval (overrides config)")
		once       = flag.Bool("once", false, "Run one sync of each kind and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *interval > 0 {
		cfg.Sync.Interval = *interval
	}

	// Initialize logger
	log := logger.NewWithFormat(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open wallet")
	}
	defer a.Close()

	if !a.Initial.SetupComplete && a.Initial.Connection.EndpointURL == "" {
		log.Fatal().Msg("Wallet is not set up; run 'cli setup' first")
	}

	period, err := domain.ParsePeriod(cfg.Sync.Period)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sync period")
	}

	handler := jobs.NewSyncHandler(a.Wallet)

	if *once {
		failed := false
		for _, job := range []*jobs.SyncJob{
			{Kind: jobs.JobKindTransactions},
			{Kind: jobs.JobKindAnalytics, Period: period},
		} {
			if err := handler(ctx, job); err != nil {
				log.Error().Err(err).Str("kind", string(job.Kind)).Msg("Sync failed")
				failed = true
				continue
			}
			log.Info().Str("kind", string(job.Kind)).Msg("Sync completed")
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Sync.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Sync.Workers),
		inmemory.WithBackoff(cfg.Sync.Backoff),
		inmemory.WithLogger(logger.Component(log, "jobs")),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// Start consuming jobs
	if err := jobQueue.Start(workerCtx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().
		Dur("interval", cfg.Sync.Interval).
		Str("period", string(period)).
		Msg("Worker service started")

	scheduler := &jobs.Scheduler{
		Publisher:  jobQueue,
		Interval:   cfg.Sync.Interval,
		Period:     period,
		MaxRetries: cfg.Sync.MaxRetries,
		Log:        logger.Component(log, "scheduler"),
	}
	if err := scheduler.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Sync scheduler stopped")
	}

	log.Info().Msg("Shutting down worker service...")
	cancelWorker()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
