package storage

import (
	"context"
	"fmt"
	"sync"

	"evalgo.org/kiwi/models"
)

// MemoryLedger keeps jobs in process memory. Stored jobs are copies, so
// callers can keep mutating their own values.
type MemoryLedger struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: make(map[string]models.Job)}
}

// SaveJob stores job, replacing any job with the same id.
func (l *MemoryLedger) SaveJob(_ context.Context, job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.ID] = *job
	return nil
}

// UpdateJob replaces a stored job.
func (l *MemoryLedger) UpdateJob(_ context.Context, job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	l.jobs[job.ID] = *job
	return nil
}

// GetJob returns a copy of the job with the given id.
func (l *MemoryLedger) GetJob(_ context.Context, id string) (*models.Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return &job, nil
}

// DeleteJob removes a job.
func (l *MemoryLedger) DeleteJob(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(l.jobs, id)
	return nil
}

// ListJobs returns copies of the jobs matching filter, newest first.
func (l *MemoryLedger) ListJobs(_ context.Context, filter models.JobFilter) ([]*models.Job, error) {
	l.mu.RLock()
	result := make([]*models.Job, 0, len(l.jobs))
	for _, job := range l.jobs {
		job := job
		if filter.Matches(&job) {
			result = append(result, &job)
		}
	}
	l.mu.RUnlock()

	sortNewestFirst(result)
	return result, nil
}
