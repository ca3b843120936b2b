package main

import (
	"fmt"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/writers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newApplyCommand(a *app) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "apply [flags] BASE CHANGESET",
		Short: "Apply a changeset to a dataset",
		Long: `The apply command replays a stored changeset on the dataset it was computed
from and writes the result. The base must be the exact version the changeset
was computed against.

Example:
  tabdelta apply data/orders.csv orders.tdcs -o orders_new.parquet`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if outputPath == "" {
				return fmt.Errorf("--output is required")
			}
			typ, err := writers.DetectType(outputPath)
			if err != nil {
				return err
			}

			cs, err := changeset.ReadFile(args[1])
			if err != nil {
				return err
			}
			base, err := a.loader(args[0]).Load(ctx, args[0])
			if err != nil {
				return err
			}
			result, err := changeset.Apply(base, cs)
			if err != nil {
				return err
			}
			if err := writers.WriteSnapshot(ctx, core.WriterConfig{Type: typ, Path: outputPath}, result); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			a.log.Info("changeset applied",
				zap.String("base", args[0]),
				zap.String("output", outputPath),
				zap.Int("rows", result.NumRows()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path of the resulting dataset")
	return cmd
}
