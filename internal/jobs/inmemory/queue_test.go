package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.SyncJob {
	t.Helper()
	var job *jobs.SyncJob
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, WithWorkers(1))
	ctx := context.Background()

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		handled.Add(1)
		return nil
	}))
	defer q.Stop(ctx)

	job := &jobs.SyncJob{Kind: jobs.JobKindTransactions}
	require.NoError(t, q.Publish(ctx, job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, int32(1), handled.Load())
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, WithWorkers(1), WithBackoff(time.Millisecond))
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		attempts.Add(1)
		return errors.New("backend unreachable")
	}))
	defer q.Stop(ctx)

	job := &jobs.SyncJob{Kind: jobs.JobKindAnalytics, MaxRetries: 2}
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "backend unreachable", failed.Error)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueue_RetrySucceeds(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, WithWorkers(2), WithBackoff(time.Millisecond))
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		if attempts.Add(1) == 1 {
			return errors.New("temporary")
		}
		return nil
	}))
	defer q.Stop(ctx)

	job := &jobs.SyncJob{Kind: jobs.JobKindTransactions}
	require.NoError(t, q.Publish(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)
}

func TestQueue_StopCancelsPendingRetry(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, store, WithWorkers(1), WithBackoff(time.Hour))
	ctx := context.Background()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		return errors.New("down")
	}))

	job := &jobs.SyncJob{Kind: jobs.JobKindTransactions}
	require.NoError(t, q.Publish(ctx, job))
	waitForStatus(t, store, job.JobID, jobs.JobStatusRetrying)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	assert.ErrorIs(t, q.Publish(ctx, &jobs.SyncJob{Kind: jobs.JobKindTransactions}), jobs.ErrQueueClosed)
	assert.ErrorIs(t, q.Start(ctx, nil), jobs.ErrQueueClosed)
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	for i, kind := range []jobs.JobKind{jobs.JobKindTransactions, jobs.JobKindAnalytics, jobs.JobKindTransactions} {
		require.NoError(t, store.SaveJob(ctx, &jobs.SyncJob{
			JobID:     string(rune('a' + i)),
			Kind:      kind,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	txs, err := store.ListJobs(ctx, jobs.JobFilter{Kind: jobs.JobKindTransactions, Limit: 1})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "c", txs[0].JobID)

	page, err := store.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)

	a, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	a.Status = jobs.JobStatusFailed
	a.Error = "boom"
	require.NoError(t, store.SaveJob(ctx, a))
	failed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Error(t, store.SaveJob(ctx, &jobs.SyncJob{}))
}

func TestStore_LastRunAndHistory(t *testing.T) {
	store := NewStore(WithHistory(2))
	ctx := context.Background()
	base := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	_, err := store.LastRun(ctx, jobs.JobKindTransactions)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	require.NoError(t, store.SaveJob(ctx, &jobs.SyncJob{
		JobID:     "pending",
		Kind:      jobs.JobKindTransactions,
		Status:    jobs.JobStatusPending,
		CreatedAt: base,
	}))
	for i := 1; i <= 3; i++ {
		completed := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveJob(ctx, &jobs.SyncJob{
			JobID:       fmt.Sprintf("done-%d", i),
			Kind:        jobs.JobKindTransactions,
			Status:      jobs.JobStatusCompleted,
			CreatedAt:   completed.Add(-time.Second),
			CompletedAt: &completed,
		}))
	}

	last, err := store.LastRun(ctx, jobs.JobKindTransactions)
	require.NoError(t, err)
	assert.Equal(t, "done-3", last.JobID)

	_, err = store.LastRun(ctx, jobs.JobKindAnalytics)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, j := range all {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"done-3", "done-2", "pending"}, ids, "oldest finished job evicted, pending kept")
}
