package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/david/investor-crm/internal/db"
)

func newStatsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "stats --owner <uuid>",
		Short: "Count a user's investors and firms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(owner)
			if err != nil {
				return errors.New("--owner must be a user UUID")
			}

			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := db.NewStore(pool).GetOwnerStats(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Investors: %d\n", stats.Investors)
			fmt.Printf("Firms: %d\n", stats.Firms)
			if stats.LastImportedAt != nil {
				fmt.Printf("Last import: %s\n", stats.LastImportedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "user UUID")
	return cmd
}
