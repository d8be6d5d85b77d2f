package main

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

func newJobsCmd() *cobra.Command {
	var owner, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs [--owner <uuid>] [--status <status>]",
		Short: "List recent import jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := db.JobFilter{Status: models.JobStatus(status), Limit: limit}
			if owner != "" {
				id, err := uuid.Parse(owner)
				if err != nil {
					return errors.New("--owner must be a user UUID")
				}
				filter.OwnerID = id
			}

			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs, err := db.NewStore(pool).ListImportJobs(ctx, filter)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Job", "File", "Status", "Total", "Imported", "Dupes", "Failed", "Duration", "Created At"})
			for _, j := range jobs {
				duration := "-"
				switch {
				case j.StartedAt != nil && j.FinishedAt != nil:
					duration = j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
				case j.StartedAt != nil:
					duration = "Running..."
				}
				t.AppendRow(table.Row{
					j.ID.String()[:8], j.FileName, j.Status, j.TotalRecords, j.Imported,
					j.Duplicates, j.Failed, duration, j.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only jobs created by this user")
	cmd.Flags().StringVar(&status, "status", "", "pending, running, completed or failed")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of jobs to show")
	return cmd
}
