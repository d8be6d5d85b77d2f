package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/david/investor-crm/internal/config"
	"github.com/david/investor-crm/internal/db"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Operate investor imports without the HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// connect loads config and opens the database with migrations applied.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logrus.NewEntry(cfg.Logger())

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return cfg, pool, log, nil
}
