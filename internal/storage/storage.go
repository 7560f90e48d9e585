// Package storage persists dispatched backup and restore jobs.
//
// The CouchDB ledger wraps the eve.evalgo.org/db library so jobs survive
// restarts and unsettled jobs can be watched again. MemoryLedger keeps jobs
// for the lifetime of the process and is used when CouchDB is disabled.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"eve.evalgo.org/db"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

// ErrJobNotFound is returned when a job id is not in the ledger.
var ErrJobNotFound = errors.New("job not found")

// Storage is the CouchDB job ledger.
type Storage struct {
	service *db.CouchDBService
	config  *config.Config
}

// New creates a Storage instance from the application configuration.
// It initializes the CouchDB connection and ensures the database exists.
func New(cfg *config.Config) (*Storage, error) {
	couchConfig := db.CouchDBConfig{
		URL:             cfg.CouchDB.URL,
		Database:        cfg.CouchDB.Database,
		Username:        cfg.CouchDB.Username,
		Password:        cfg.CouchDB.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	storage := &Storage{
		service: service,
		config:  cfg,
	}

	storage.initializeSchema()
	return storage, nil
}

// initializeSchema creates the indexes used by job queries.
func (s *Storage) initializeSchema() {
	indexes := []db.Index{
		{
			Name:   "jobs-kind-status",
			Fields: []string{"@type", "kind", "status"},
			Type:   "json",
		},
		{
			Name:   "jobs-infra",
			Fields: []string{"@type", "infraId"},
			Type:   "json",
		},
	}

	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// the index may already exist
			logging.Warnf("failed to create index %s: %v", index.Name, err)
		}
	}
}

// Close closes the storage connection.
func (s *Storage) Close() error {
	return s.service.Close()
}

// GetDatabaseInfo returns CouchDB database information.
func (s *Storage) GetDatabaseInfo() (*db.DatabaseInfo, error) {
	return s.service.GetDatabaseInfo()
}

// SaveJob stores a new job. Saving an id that already exists replaces it.
func (s *Storage) SaveJob(_ context.Context, job *models.Job) error {
	_, err := s.service.SaveGenericDocument(job)

	// on conflict, retry with the stored revision
	if err != nil {
		if couchErr, ok := err.(*db.CouchDBError); ok && couchErr.IsConflict() {
			existing, getErr := s.getJob(job.ID)
			if getErr == nil {
				job.Rev = existing.Rev
				_, err = s.service.SaveGenericDocument(job)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob stores a changed job. The revision is taken from the stored
// document, so callers may pass copies without a current _rev.
func (s *Storage) UpdateJob(ctx context.Context, job *models.Job) error {
	existing, err := s.getJob(job.ID)
	if err != nil {
		return err
	}
	job.Rev = existing.Rev
	return s.SaveJob(ctx, job)
}

// GetJob retrieves a job by id.
func (s *Storage) GetJob(_ context.Context, id string) (*models.Job, error) {
	return s.getJob(id)
}

func (s *Storage) getJob(id string) (*models.Job, error) {
	var job models.Job
	if err := s.service.GetGenericDocument(id, &job); err != nil {
		if couchErr, ok := err.(*db.CouchDBError); ok && couchErr.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job from the ledger.
func (s *Storage) DeleteJob(_ context.Context, id string) error {
	job, err := s.getJob(id)
	if err != nil {
		return err
	}
	if err := s.service.DeleteDocument(id, job.Rev); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// ListJobs returns the jobs matching filter, newest first.
func (s *Storage) ListJobs(_ context.Context, filter models.JobFilter) ([]*models.Job, error) {
	// QueryBuilder does not handle $in, so the selector is built directly
	selector := map[string]interface{}{
		"@type": map[string]interface{}{
			"$in": []string{models.JobTypeBackup, models.JobTypeRestore},
		},
	}
	if filter.InfraID != 0 {
		selector["infraId"] = map[string]interface{}{"$eq": filter.InfraID}
	}
	if filter.Kind != "" {
		selector["kind"] = map[string]interface{}{"$eq": string(filter.Kind)}
	}
	if filter.Status != "" {
		selector["status"] = map[string]interface{}{"$eq": string(filter.Status)}
	}

	jobs, err := db.FindTyped[models.Job](s.service, db.MangoQuery{Selector: selector})
	if err != nil {
		return nil, err
	}

	// the query cannot express "not terminal", so Active is applied here
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if filter.Matches(&jobs[i]) {
			result = append(result, &jobs[i])
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
