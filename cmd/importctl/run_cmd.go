package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/ingest"
	"github.com/david/investor-crm/internal/models"
)

type runOptions struct {
	Owner      string
	File       string
	KeepSource bool
	Mapping    map[string]string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --owner <uuid> --file <path>",
		Short: "Import a CSV, XLSX or JSON file in-process and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := uuid.Parse(strings.TrimSpace(opts.Owner))
			if err != nil {
				return errors.New("--owner must be a user UUID")
			}
			if strings.TrimSpace(opts.File) == "" {
				return errors.New("--file is required")
			}
			if err := ingest.CheckFieldMapping(opts.Mapping); err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, log, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			registry, err := ingest.LoadRegistry(cfg.Import.ColumnMapPath)
			if err != nil {
				return err
			}
			failedDir := cfg.Import.FailedDir
			if !cfg.Import.WriteFailures {
				failedDir = ""
			}
			pipeline := ingest.NewPipeline(db.NewImportStore(pool), registry, ingest.Options{
				BatchSize:       cfg.Import.BatchSize,
				LookupChunkSize: cfg.Import.LookupChunkSize,
				DefaultFirmType: cfg.Import.DefaultFirmType,
				FailedDir:       failedDir,
			}, log)

			result, err := pipeline.Run(ctx, ingest.Request{
				OwnerID:      owner,
				SourcePath:   opts.File,
				FieldMapping: opts.Mapping,
				KeepSource:   opts.KeepSource,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "user UUID that will own the imported investors")
	cmd.Flags().StringVar(&opts.File, "file", "", "source file (.csv, .xlsx or .json)")
	cmd.Flags().BoolVar(&opts.KeepSource, "keep-source", false, "keep the source file instead of deleting it after the run")
	cmd.Flags().StringToStringVar(&opts.Mapping, "mapping", nil, "source column to field overrides, e.g. \"Work Email=email\"")
	return cmd
}

func printResult(result *models.ImportResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Total", "Imported", "Skipped", "Duplicates", "Failed"})
	t.AppendRow(table.Row{result.Total, result.Imported, result.Skipped, result.Duplicates, len(result.FailedRecords)})
	t.Render()

	if len(result.FailedRecords) == 0 {
		return
	}
	f := table.NewWriter()
	f.SetOutputMirror(os.Stdout)
	f.AppendHeader(table.Row{"Row", "Stage", "Email", "Error"})
	for _, fr := range result.FailedRecords {
		f.AppendRow(table.Row{fr.Row, fr.Stage, fr.Record.Email, fr.Reason})
	}
	f.Render()

	if result.FailureFile != "" {
		fmt.Printf("Failed records written to %s\n", result.FailureFile)
	}
}
