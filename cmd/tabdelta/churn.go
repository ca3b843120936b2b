package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/TFMV/tabdelta/pkg/churn"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/writers"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ChurnOptions represents the options for the churn command.
type ChurnOptions struct {
	DaysAgo       int
	WithMerges    bool
	NewFiles      bool
	KeyColumns    []string
	IgnoreColumns []string
	Epsilon       float64
	OutputPath    string
	Top           int
}

func newChurnCommand(a *app) *cobra.Command {
	options := &ChurnOptions{DaysAgo: 30, Top: 20}

	cmd := &cobra.Command{
		Use:   "churn [flags] PATH...",
		Short: "Summarize how much datasets changed recently",
		Long: `The churn command diffs every commit that touched each dataset in the last
--days-ago days against its parent and sums the rows added, removed and
modified per file. Files are listed by total churn, highest first.

With --new-files only commits made within --days-ago of the file's creation
count. With --output the summary is saved as a table (.parquet, .arrow,
.csv or .json).

Examples:
  tabdelta churn --key id data/orders.csv data/customers.csv
  tabdelta churn -d 90 --with-merges -o churn.parquet data/orders.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn(cmd, a, options, args)
		},
	}

	cmd.Flags().IntVarP(&options.DaysAgo, "days-ago", "d", options.DaysAgo, "Size of the window in days (0 for the whole history)")
	cmd.Flags().BoolVar(&options.WithMerges, "with-merges", false, "Count merge commits")
	cmd.Flags().BoolVar(&options.NewFiles, "new-files", false, "Only count commits within the window of each file's creation")
	cmd.Flags().StringSliceVarP(&options.KeyColumns, "key", "k", nil, "Key columns to match rows")
	cmd.Flags().StringSliceVar(&options.IgnoreColumns, "ignore", nil, "Columns to leave out of the comparison")
	cmd.Flags().Float64Var(&options.Epsilon, "epsilon", 0, "Absolute tolerance for float comparisons")
	cmd.Flags().StringVarP(&options.OutputPath, "output", "o", "", "Save the summary to this path")
	cmd.Flags().IntVar(&options.Top, "limit", options.Top, "Number of files listed (0 for all)")

	return cmd
}

func runChurn(cmd *cobra.Command, a *app, options *ChurnOptions, paths []string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	epsSet := cmd.Flags().Changed("epsilon")

	opts := churn.Options{
		WithMerges: options.WithMerges,
		Diff:       a.diffOptions("", options.KeyColumns, options.IgnoreColumns, options.Epsilon, epsSet),
		Workers:    a.cfg.Diff.Workers,
		Logger:     a.log,
	}
	if options.DaysAgo > 0 {
		window := time.Duration(options.DaysAgo) * 24 * time.Hour
		opts.Since = time.Now().Add(-window)
		if options.NewFiles {
			opts.MaxAge = window
		}
	}

	datasets := make([]churn.Dataset, len(paths))
	for i, p := range paths {
		d := a.diffOptions(p, options.KeyColumns, nil, 0, false)
		datasets[i] = churn.Dataset{Path: p, KeyColumns: d.KeyColumns, Loader: a.loader(p)}
	}

	spin := a.spinner(errOut, "Measuring churn...")
	start := time.Now()
	report, err := churn.Analyze(ctx, a.history, datasets, opts)
	spin.Stop()
	if err != nil {
		return err
	}
	a.log.Debug("churn finished",
		zap.Int("datasets", len(datasets)),
		zap.Int("commits", len(report.Changes)),
		zap.Duration("took", time.Since(start)))

	if options.OutputPath != "" {
		if err := saveChurn(cmd, options.OutputPath, report); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	files := report.Files
	if options.Top > 0 && len(files) > options.Top {
		files = files[:options.Top]
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tCOMMITS\tADDED\tREMOVED\tMODIFIED\tTOTAL\tCREATED")
	for _, f := range files {
		created := "-"
		if !f.Created.IsZero() {
			created = humanize.Time(f.Created)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", f.Path, f.Commits,
			humanize.Comma(int64(f.Added)),
			humanize.Comma(int64(f.Removed)),
			humanize.Comma(int64(f.Modified)),
			humanize.Comma(int64(f.Total())),
			created)
	}
	return w.Flush()
}

func saveChurn(cmd *cobra.Command, path string, report *churn.Report) error {
	typ, err := writers.DetectType(path)
	if err != nil {
		return err
	}
	s, err := report.Snapshot()
	if err != nil {
		return err
	}
	return writers.WriteSnapshot(cmd.Context(), core.WriterConfig{Type: typ, Path: path}, s)
}
