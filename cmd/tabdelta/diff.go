package main

import (
	"fmt"
	"time"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/writers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DiffOptions represents the options for the diff command.
type DiffOptions struct {
	KeyColumns    []string
	IgnoreColumns []string
	Epsilon       float64
	OutputPath    string
	Format        string
	Samples       int
	ExitCode      bool
}

func newDiffCommand(a *app) *cobra.Command {
	options := &DiffOptions{Samples: 20}

	cmd := &cobra.Command{
		Use:   "diff [flags] BASE TARGET",
		Short: "Compare two dataset versions",
		Long: `The diff command compares two versions of a dataset and reports the rows
added, removed and modified, plus schema changes.

Rows are matched by --key columns when given, otherwise by a hash of the
whole row. With --output the changeset is saved: a .tdcs (or .tdcs.s2) path
stores the encoded changeset, a .parquet, .arrow, .csv or .json path exports
it as a table.

Examples:
  tabdelta diff --key id old.parquet new.parquet
  tabdelta diff --key id HEAD~1:data/orders.csv data/orders.csv -o orders.tdcs`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, a, options, args[0], args[1])
		},
	}

	cmd.Flags().StringSliceVarP(&options.KeyColumns, "key", "k", nil, "Key columns to match rows")
	cmd.Flags().StringSliceVar(&options.IgnoreColumns, "ignore", nil, "Columns to leave out of the comparison")
	cmd.Flags().Float64Var(&options.Epsilon, "epsilon", 0, "Absolute tolerance for float comparisons")
	cmd.Flags().StringVarP(&options.OutputPath, "output", "o", "", "Save the changeset to this path")
	cmd.Flags().StringVarP(&options.Format, "format", "f", "", "Report format (text, json, html)")
	cmd.Flags().IntVar(&options.Samples, "limit", options.Samples, "Number of changes shown in the report")
	cmd.Flags().BoolVar(&options.ExitCode, "exit-code", false, "Exit with status 1 when the versions differ")

	return cmd
}

func runDiff(cmd *cobra.Command, a *app, options *DiffOptions, baseRef, targetRef string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	gen, err := a.generator(options.Format)
	if err != nil {
		return err
	}

	spin := a.spinner(errOut, "Loading datasets...")
	snaps, err := a.loader(targetRef).LoadAll(ctx, baseRef, targetRef)
	spin.Stop()
	if err != nil {
		return err
	}
	base, target := snaps[0], snaps[1]

	diffOpts := a.diffOptions(targetRef, options.KeyColumns, options.IgnoreColumns, options.Epsilon, cmd.Flags().Changed("epsilon"))
	bar := a.bar(errOut, "diff")
	diffOpts.Progress = bar

	start := time.Now()
	cs, err := diff.Diff(ctx, base, target, diffOpts)
	if err != nil {
		bar.Abort()
		return fmt.Errorf("failed to compute diff: %w", err)
	}
	bar.Done()
	end := time.Now()

	a.log.Debug("diff finished",
		zap.String("base", baseRef),
		zap.String("target", targetRef),
		zap.Duration("took", end.Sub(start)))

	if options.OutputPath != "" {
		if err := saveChangeset(cmd, options.OutputPath, cs); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	r := metrics.Build(cs, metrics.RunMetadata{
		BaseRef:   baseRef,
		TargetRef: targetRef,
		StartTime: start,
		EndTime:   end,
	}, int64(base.NumRows()), int64(target.NumRows()), options.Samples)
	data, err := gen.GenerateDiffReport(r)
	if err != nil {
		return err
	}
	if err := writeOutput(out, data); err != nil {
		return err
	}

	if options.ExitCode && !cs.Empty() {
		return errDifferences
	}
	return nil
}

// saveChangeset stores cs encoded or exported as a table, by extension.
func saveChangeset(cmd *cobra.Command, path string, cs *changeset.Changeset) error {
	if changeset.IsFile(path) {
		return changeset.WriteFile(path, cs)
	}
	typ, err := writers.DetectType(path)
	if err != nil {
		return err
	}
	return writers.WriteChangeset(cmd.Context(), core.WriterConfig{Type: typ, Path: path}, cs)
}
