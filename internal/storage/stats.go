package storage

import "evalgo.org/kiwi/models"

// Statistics summarizes recorded jobs for the dashboard.
type Statistics struct {
	TotalJobs     int         `json:"totalJobs"`
	Backups       int         `json:"backups"`
	Restores      int         `json:"restores"`
	ActiveJobs    int         `json:"activeJobs"`
	CompletedJobs int         `json:"completedJobs"`
	FailedJobs    int         `json:"failedJobs"`
	InfraJobCount map[int]int `json:"infraJobCount"` // infra ID -> job count
}

// ComputeStatistics counts jobs by kind and outcome. PartiallyFailed jobs
// count as failed.
func ComputeStatistics(jobs []*models.Job) *Statistics {
	stats := &Statistics{
		InfraJobCount: make(map[int]int),
	}

	for _, job := range jobs {
		stats.TotalJobs++
		stats.InfraJobCount[job.InfraID]++

		switch job.Kind {
		case models.JobKindBackup:
			stats.Backups++
		case models.JobKindRestore:
			stats.Restores++
		}

		switch {
		case job.Status.IsFailure():
			stats.FailedJobs++
		case job.Status == models.JobCompleted:
			stats.CompletedJobs++
		default:
			stats.ActiveJobs++
		}
	}

	return stats
}
