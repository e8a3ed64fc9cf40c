package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/sheets-wallet/internal/jobs"
)

// DefaultHistory is how many finished jobs a Store keeps by default.
const DefaultHistory = 200

// Store is an in-memory JobStore. Job history is lost on restart; only the
// caches the jobs refresh persist.
//
// A periodic sync publishes jobs forever, so the store keeps at most
// `history` finished jobs and evicts the oldest ones first. Pending, running
// and retrying jobs are never evicted.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobs.SyncJob
	history int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistory bounds the number of finished jobs kept. n <= 0 keeps
// everything.
func WithHistory(n int) StoreOption {
	return func(s *Store) {
		s.history = n
	}
}

// NewStore creates an empty job store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:    make(map[string]*jobs.SyncJob),
		history: DefaultHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveJob stores a copy of job, replacing any job with the same ID.
func (s *Store) SaveJob(ctx context.Context, job *jobs.SyncJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	if finished(job.Status) {
		s.evictLocked()
	}
	return nil
}

// GetJob returns a copy of the job with the given ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob %s: %w", jobID, jobs.ErrJobNotFound)
	}
	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs returns matching jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.SyncJob, error) {
	s.mu.RLock()
	result := s.matchLocked(filter.Kind, filter.Status)
	s.mu.RUnlock()

	sortNewestFirst(result)

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.SyncJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// LastRun returns the most recently finished job of kind, or ErrJobNotFound
// when none has finished yet.
func (s *Store) LastRun(ctx context.Context, kind jobs.JobKind) (*jobs.SyncJob, error) {
	s.mu.RLock()
	candidates := s.matchLocked(kind, "")
	s.mu.RUnlock()

	var last *jobs.SyncJob
	for _, job := range candidates {
		if !finished(job.Status) || job.CompletedAt == nil {
			continue
		}
		if last == nil || job.CompletedAt.After(*last.CompletedAt) {
			last = job
		}
	}
	if last == nil {
		return nil, fmt.Errorf("LastRun %s: %w", kind, jobs.ErrJobNotFound)
	}
	return last, nil
}

// matchLocked copies out the jobs matching kind and status. Empty values
// match everything.
func (s *Store) matchLocked(kind jobs.JobKind, status jobs.JobStatus) []*jobs.SyncJob {
	result := []*jobs.SyncJob{}
	for _, job := range s.jobs {
		if kind != "" && job.Kind != kind {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}
	return result
}

func (s *Store) evictLocked() {
	if s.history <= 0 {
		return
	}

	var done []*jobs.SyncJob
	for _, job := range s.jobs {
		if finished(job.Status) {
			done = append(done, job)
		}
	}
	if len(done) <= s.history {
		return
	}

	sortNewestFirst(done)
	for _, job := range done[s.history:] {
		delete(s.jobs, job.JobID)
	}
}

func finished(status jobs.JobStatus) bool {
	return status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed
}

func sortNewestFirst(js []*jobs.SyncJob) {
	sort.Slice(js, func(i, j int) bool {
		if js[i].CreatedAt.Equal(js[j].CreatedAt) {
			return js[i].JobID > js[j].JobID
		}
		return js[i].CreatedAt.After(js[j].CreatedAt)
	})
}

var _ jobs.JobStore = (*Store)(nil)
