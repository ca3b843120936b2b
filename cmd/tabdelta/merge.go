package main

import (
	"fmt"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/writers"
	"github.com/spf13/cobra"
)

// MergeOptions represents the options for the merge command.
type MergeOptions struct {
	Ancestor   string
	KeyColumns []string
	Epsilon    float64
	OutputPath string
	Format     string
}

func newMergeCommand(a *app) *cobra.Command {
	options := &MergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge [flags] OURS THEIRS",
		Short: "Merge two versions of a dataset against their common ancestor",
		Long: `The merge command diffs both versions against their common ancestor and
combines the two changesets. Cells changed on one side only are taken from
that side; cells changed differently on both sides are conflicts.

The ancestor is found with git when both versions are "rev:path" refs of the
same path; otherwise pass it with --ancestor.

With --output a clean merge is saved: a .tdcs path stores the merged
changeset, any other path receives the merged dataset. Conflicts are
reported and the command exits with status 1.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, a, options, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&options.Ancestor, "ancestor", "", "Common ancestor version (default: git merge-base)")
	cmd.Flags().StringSliceVarP(&options.KeyColumns, "key", "k", nil, "Key columns to match rows")
	cmd.Flags().Float64Var(&options.Epsilon, "epsilon", 0, "Absolute tolerance for float comparisons")
	cmd.Flags().StringVarP(&options.OutputPath, "output", "o", "", "Save the merge result to this path")
	cmd.Flags().StringVarP(&options.Format, "format", "f", "", "Report format (text, json, html)")

	return cmd
}

func runMerge(cmd *cobra.Command, a *app, options *MergeOptions, ours, theirs string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	gen, err := a.generator(options.Format)
	if err != nil {
		return err
	}

	l := a.loader(ours)
	ancestor := options.Ancestor
	if ancestor == "" {
		if ancestor, err = l.AncestorRef(ctx, ours, theirs); err != nil {
			return fmt.Errorf("failed to find common ancestor: %w", err)
		}
	}

	spin := a.spinner(errOut, "Loading datasets...")
	snaps, err := l.LoadAll(ctx, ancestor, ours, theirs)
	spin.Stop()
	if err != nil {
		return err
	}

	opts := a.diffOptions(ours, options.KeyColumns, nil, options.Epsilon, cmd.Flags().Changed("epsilon"))
	results, err := diff.Many(ctx, []diff.Pair{
		{Name: "ours", Base: snaps[0], Target: snaps[1]},
		{Name: "theirs", Base: snaps[0], Target: snaps[2]},
	}, opts, a.cfg.Diff.Workers)
	if err != nil {
		return fmt.Errorf("failed to compute diff: %w", err)
	}

	res, err := changeset.Merge(results[0].Changeset, results[1].Changeset, snaps[0], changeset.WithEpsilon(opts.FloatEpsilon))
	if err != nil {
		return err
	}

	data, err := gen.GenerateMergeReport(metrics.BuildMerge(res))
	if err != nil {
		return err
	}
	if err := writeOutput(out, data); err != nil {
		return err
	}
	if !res.Clean() {
		return fmt.Errorf("merge has %d conflicts", len(res.Conflicts)+len(res.SchemaConflicts))
	}

	if options.OutputPath == "" {
		return nil
	}
	if changeset.IsFile(options.OutputPath) {
		return changeset.WriteFile(options.OutputPath, res.Changeset)
	}
	merged, err := changeset.Apply(snaps[0], res.Changeset)
	if err != nil {
		return err
	}
	typ, err := writers.DetectType(options.OutputPath)
	if err != nil {
		return err
	}
	return writers.WriteSnapshot(ctx, core.WriterConfig{Type: typ, Path: options.OutputPath}, merged)
}
