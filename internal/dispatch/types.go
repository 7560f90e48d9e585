package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"evalgo.org/kiwi/models"
)

// Response is the wire envelope returned by the backend.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Decode unmarshals the data field of a response into T.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return out, fmt.Errorf("failed to decode response data: %w", err)
	}
	return out, nil
}

// Accepted is the data returned by fire-and-forget actions.
// Backends disagree on the field name, so all known spellings are read.
type Accepted struct {
	JobID   string `json:"job_id,omitempty"`
	ID      any    `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// Identifier returns the first non-empty job identifier.
func (a Accepted) Identifier() string {
	if a.JobID != "" {
		return a.JobID
	}
	switch v := a.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return a.Name
}

// JobRecord is one backup or restore as reported by the batch job actions.
type JobRecord struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	InfraID     int              `json:"infra_id"`
	Status      models.JobStatus `json:"status"`
	Namespace   string           `json:"namespace,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Matches reports whether the record is the job identified by id.
func (r JobRecord) Matches(id string) bool {
	return id != "" && (r.ID == id || r.Name == id)
}

// BatchJobs maps infrastructure id to its jobs.
type BatchJobs map[int][]JobRecord

// Find returns the job with the given id on the given infrastructure.
func (b BatchJobs) Find(infraID int, id string) (JobRecord, bool) {
	for _, rec := range b[infraID] {
		if rec.Matches(id) {
			return rec, true
		}
	}
	return JobRecord{}, false
}

// BatchMappings maps infrastructure id to its storage mappings.
type BatchMappings map[int][]models.StorageMapping
