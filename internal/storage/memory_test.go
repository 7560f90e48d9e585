package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/kiwi/models"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	backup := models.NewJob(models.JobKindBackup, 5, "b-1", "nightly", "default")
	restore := models.NewJob(models.JobKindRestore, 9, "r-1", "restore-1", "nightly")
	restore.CreatedAt = backup.CreatedAt.Add(time.Minute)

	require.NoError(t, l.SaveJob(ctx, backup))
	require.NoError(t, l.SaveJob(ctx, restore))

	// the ledger holds copies
	backup.Status = models.JobFailed
	got, err := l.GetJob(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobNew, got.Status)

	got.Apply(models.JobCompleted, "")
	require.NoError(t, l.UpdateJob(ctx, got))

	all, err := l.ListJobs(ctx, models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, restore.ID, all[0].ID, "newest first")

	active, err := l.ListJobs(ctx, models.JobFilter{Active: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, restore.ID, active[0].ID)

	byInfra, err := l.ListJobs(ctx, models.JobFilter{InfraID: 5, Kind: models.JobKindBackup})
	require.NoError(t, err)
	require.Len(t, byInfra, 1)
	assert.Equal(t, models.JobCompleted, byInfra[0].Status)

	require.NoError(t, l.DeleteJob(ctx, restore.ID))
	_, err = l.GetJob(ctx, restore.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, l.UpdateJob(ctx, restore), ErrJobNotFound)
}

func TestComputeStatistics(t *testing.T) {
	jobs := []*models.Job{
		{Kind: models.JobKindBackup, InfraID: 1, Status: models.JobCompleted},
		{Kind: models.JobKindBackup, InfraID: 1, Status: models.JobInProgress},
		{Kind: models.JobKindRestore, InfraID: 2, Status: models.JobPartiallyFailed},
		{Kind: models.JobKindRestore, InfraID: 2, Status: models.JobFailed},
	}

	stats := ComputeStatistics(jobs)
	assert.Equal(t, 4, stats.TotalJobs)
	assert.Equal(t, 2, stats.Backups)
	assert.Equal(t, 2, stats.Restores)
	assert.Equal(t, 1, stats.ActiveJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 2, stats.FailedJobs)
	assert.Equal(t, map[int]int{1: 2, 2: 2}, stats.InfraJobCount)
}
