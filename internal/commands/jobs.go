package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/storage"
	"evalgo.org/kiwi/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded backup and restore jobs",
	Long: `Inspect jobs recorded in the ledger. Without the CouchDB ledger only
jobs started by the current process are known.`,
}

var (
	jobsKind   string
	jobsStatus string
	jobsInfra  int
	jobsActive bool
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.JobFilter{InfraID: jobsInfra, Kind: models.JobKind(jobsKind), Active: jobsActive}
		if jobsStatus != "" {
			st, err := models.ParseJobStatus(jobsStatus)
			if err != nil {
				return err
			}
			filter.Status = st
		}

		return session(cmd, func(ctx context.Context, a *app, _ *waiter) error {
			jobs, err := a.orch.Jobs(ctx, filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tINFRA\tNAME\tSTATUS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", j.ID, j.Kind, j.InfraID, j.Name, j.Status, j.CreatedAt.Format("2006-01-02 15:04"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			stats := storage.ComputeStatistics(jobs)
			fmt.Printf("\n%d jobs: %d active, %d completed, %d failed\n", stats.TotalJobs, stats.ActiveJobs, stats.CompletedJobs, stats.FailedJobs)
			return nil
		})
	},
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch JOB_ID",
	Short: "Poll a recorded job until it settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return session(cmd, func(ctx context.Context, a *app, w *waiter) error {
			job, err := a.orch.Watch(ctx, args[0])
			if err != nil {
				return err
			}
			if job.Status.IsTerminal() {
				fmt.Printf("%s already ended %s\n", job.ID, job.Status)
				return nil
			}

			fmt.Printf("Watching %s (%s)...\n", job.ID, job.Status)
			// Interrupting stops the watch only, the backend job keeps running
			out, err := w.waitJob(ctx, job.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s ended %s\n", out.JobID, out.Status)
			if !out.Succeeded && out.Err != nil {
				return out.Err
			}
			return nil
		})
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsKind, "kind", "", "backup or restore")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "job status filter")
	jobsListCmd.Flags().IntVar(&jobsInfra, "infra", 0, "infrastructure id filter")
	jobsListCmd.Flags().BoolVar(&jobsActive, "active", false, "only jobs that have not settled")

	jobsCmd.AddCommand(jobsListCmd, jobsWatchCmd)
}
