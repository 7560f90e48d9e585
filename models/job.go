package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle status of a backup or restore job.
type JobStatus string

const (
	JobNew             JobStatus = "New"
	JobPending         JobStatus = "Pending"
	JobInProgress      JobStatus = "InProgress"
	JobCompleted       JobStatus = "Completed"
	JobFailed          JobStatus = "Failed"
	JobPartiallyFailed JobStatus = "PartiallyFailed"
)

var jobStatusRank = map[JobStatus]int{
	JobNew:             0,
	JobPending:         1,
	JobInProgress:      2,
	JobCompleted:       3,
	JobFailed:          3,
	JobPartiallyFailed: 3,
}

// ParseJobStatus accepts the canonical names plus the lower/snake case
// spellings some backends report.
func ParseJobStatus(s string) (JobStatus, error) {
	switch s {
	case "New", "new", "":
		return JobNew, nil
	case "Pending", "pending", "queued":
		return JobPending, nil
	case "InProgress", "in_progress", "inprogress", "running":
		return JobInProgress, nil
	case "Completed", "completed", "succeeded":
		return JobCompleted, nil
	case "Failed", "failed", "error":
		return JobFailed, nil
	case "PartiallyFailed", "partially_failed", "partiallyfailed":
		return JobPartiallyFailed, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// UnmarshalJSON normalizes alternative spellings into canonical statuses.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseJobStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further progress is expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobPartiallyFailed
}

// IsFailure reports whether the status is a failure. PartiallyFailed counts as failure.
func (s JobStatus) IsFailure() bool {
	return s == JobFailed || s == JobPartiallyFailed
}

// CanTransitionTo reports whether moving from s to next is a forward move.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return jobStatusRank[next] >= jobStatusRank[s]
}

// JobKind distinguishes backup from restore jobs.
type JobKind string

const (
	JobKindBackup  JobKind = "backup"
	JobKindRestore JobKind = "restore"
)

// Job is a dispatched backup or restore operation.
//
// Example JSON representation:
//
//	{
//	  "@id": "job:backup:5:nightly",
//	  "@type": "BackupJob",
//	  "kind": "backup",
//	  "infraId": 5,
//	  "name": "nightly",
//	  "target": "default",
//	  "status": "InProgress",
//	  "dateCreated": "2026-01-01T10:00:00Z"
//	}
type Job struct {
	// CouchDB fields
	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	// Type is BackupJob or RestoreJob
	Type string `json:"@type"`

	Kind JobKind `json:"kind" couchdb:"index"`

	// RemoteID is the identifier the backend returned on dispatch
	RemoteID string `json:"remoteId"`

	InfraID     int        `json:"infraId" couchdb:"index"`
	Name        string     `json:"name"`
	Target      string     `json:"target,omitempty"` // namespace or compose project
	Status      JobStatus  `json:"status" couchdb:"index"`
	CreatedAt   time.Time  `json:"dateCreated"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Document types of jobs in the ledger.
const (
	JobTypeBackup  = "BackupJob"
	JobTypeRestore = "RestoreJob"
)

// NewJob creates a job record for a freshly accepted dispatch.
func NewJob(kind JobKind, infraID int, remoteID, name, target string) *Job {
	typ := JobTypeBackup
	if kind == JobKindRestore {
		typ = JobTypeRestore
	}
	return &Job{
		ID:        JobID(kind, infraID, remoteID),
		Type:      typ,
		Kind:      kind,
		RemoteID:  remoteID,
		InfraID:   infraID,
		Name:      name,
		Target:    target,
		Status:    JobNew,
		CreatedAt: time.Now(),
	}
}

// JobID derives the local job identifier from kind, infra and remote id.
func JobID(kind JobKind, infraID int, remoteID string) string {
	return fmt.Sprintf("job:%s:%d:%s", kind, infraID, remoteID)
}

// Apply moves the job to status, stamping CompletedAt on the first terminal observation.
// Backward moves are ignored; it returns whether the job changed.
func (j *Job) Apply(status JobStatus, errMsg string) bool {
	if status == j.Status || !j.Status.CanTransitionTo(status) {
		return false
	}
	j.set(status, errMsg)
	return true
}

// Observe records a status reported by the backend during polling. Unlike Apply
// it accepts any non-terminal-to-anything move, since the backend is authoritative.
func (j *Job) Observe(status JobStatus, errMsg string) bool {
	if status == j.Status || j.Status.IsTerminal() {
		return false
	}
	j.set(status, errMsg)
	return true
}

func (j *Job) set(status JobStatus, errMsg string) {
	j.Status = status
	if errMsg != "" {
		j.Error = errMsg
	}
	if status.IsTerminal() && j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
}

// JobFilter selects jobs from a ledger. Zero fields match everything.
type JobFilter struct {
	InfraID int
	Kind    JobKind
	Status  JobStatus

	// Active restricts the result to non-terminal jobs
	Active bool
}

// Matches reports whether j passes the filter.
func (f JobFilter) Matches(j *Job) bool {
	if f.InfraID != 0 && j.InfraID != f.InfraID {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Active && j.Status.IsTerminal() {
		return false
	}
	return true
}
