package main

import (
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/spf13/cobra"
)

func newSchemaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema DATASET [OTHER]",
		Short: "Show a dataset schema or compare two",
		Long: `With one dataset the schema command prints its columns. With two it prints
the column-by-column comparison: unchanged, added, removed, promoted and
retyped columns.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := a.loader(args[0]).LoadAll(cmd.Context(), args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 1 {
				return writeOutput(out, []byte(schema.Describe(snaps[0].Schema())))
			}
			return writeOutput(out, []byte(schema.Format(snaps[0].Schema(), snaps[1].Schema())))
		},
	}
	return cmd
}
