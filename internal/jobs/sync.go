package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
	"github.com/rs/zerolog"
)

// Syncer is the part of the wallet session that sync jobs drive.
type Syncer interface {
	Transactions(ctx context.Context, force bool) (*wallet.TransactionsResult, error)
	Analytics(ctx context.Context, period domain.Period, force bool) (*wallet.AnalyticsResult, error)
}

// NewSyncHandler returns a JobHandler that force-refreshes the cache named
// by the job. Falling back to cached data counts as a failure so the queue
// retries it.
func NewSyncHandler(s Syncer) JobHandler {
	return func(ctx context.Context, job *SyncJob) error {
		switch job.Kind {
		case JobKindTransactions:
			res, err := s.Transactions(ctx, true)
			if err != nil {
				return fmt.Errorf("sync transactions: %w", err)
			}
			if res.Stale {
				return fmt.Errorf("sync transactions: %w", res.SyncErr)
			}
			return nil

		case JobKindAnalytics:
			res, err := s.Analytics(ctx, job.Period, true)
			if err != nil {
				return fmt.Errorf("sync analytics: %w", err)
			}
			if res.Stale {
				return fmt.Errorf("sync analytics: %w", res.SyncErr)
			}
			return nil
		}
		return fmt.Errorf("unknown job kind: %q", job.Kind)
	}
}

// Scheduler publishes sync jobs on a fixed interval.
type Scheduler struct {
	Publisher Publisher
	Interval  time.Duration
	// Period is used for analytics jobs.
	Period     domain.Period
	MaxRetries int
	Log        zerolog.Logger
}

// Run publishes one transactions and one analytics job immediately and then
// every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("Scheduler.Run: interval must be positive")
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if err := s.publishAll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) publishAll(ctx context.Context) error {
	for _, kind := range []JobKind{JobKindTransactions, JobKindAnalytics} {
		job := &SyncJob{Kind: kind, MaxRetries: s.MaxRetries}
		if kind == JobKindAnalytics {
			job.Period = s.Period
		}
		if err := s.Publisher.Publish(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("Scheduler.Run: publish %s: %w", kind, err)
		}
		s.Log.Debug().Str("job_id", job.JobID).Str("kind", string(kind)).Msg("Scheduled sync job")
	}
	return nil
}
