package main

import (
	"fmt"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/spf13/cobra"
)

func newShowCommand(a *app) *cobra.Command {
	var (
		format     string
		limit      int
		exportPath string
	)

	cmd := &cobra.Command{
		Use:   "show [flags] CHANGESET",
		Short: "Print a stored changeset",
		Long: `The show command prints the summary of a stored changeset. With --export the
changes are also written as a table (.parquet, .arrow, .csv or .json).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := a.generator(format)
			if err != nil {
				return err
			}
			cs, err := changeset.ReadFile(args[0])
			if err != nil {
				return err
			}
			if exportPath != "" {
				if changeset.IsFile(exportPath) {
					return fmt.Errorf("export path %s must be a dataset file", exportPath)
				}
				if err := saveChangeset(cmd, exportPath, cs); err != nil {
					return fmt.Errorf("failed to export changeset: %w", err)
				}
			}

			r := metrics.Build(cs, metrics.RunMetadata{BaseRef: args[0]}, 0, 0, limit)
			data, err := gen.GenerateDiffReport(r)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Report format (text, json, html)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of changes shown")
	cmd.Flags().StringVar(&exportPath, "export", "", "Export the changes as a table to this path")
	return cmd
}
