package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TFMV/tabdelta/config"
	"github.com/TFMV/tabdelta/internal/progress"
	"github.com/TFMV/tabdelta/logger"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/history"
	"github.com/TFMV/tabdelta/pkg/loader"
	"github.com/TFMV/tabdelta/report"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errDifferences makes the process exit with status 1 without printing an
// error, like "git diff --exit-code".
var errDifferences = errors.New("differences found")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	ConfigPath string
	Repository string
	LogLevel   string
	LogFile    string
	Quiet      bool
	NoColor    bool
}

// app carries what commands need once flags and config are resolved.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	history *history.Client
	quiet   bool
	color   bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tabdelta",
		Short: "tabdelta is a schema-aware diff and merge tool for tabular datasets",
		Long: `tabdelta compares versions of tabular datasets (Parquet, Arrow, CSV) and
produces changesets of added, removed and modified rows plus schema changes.
Changesets can be stored, inspected, applied and merged three-way.

Datasets are named by path, or by "rev:path" to read a file at a git revision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Config file (default ./"+config.FileName+")")
	flags.StringVarP(&opts.Repository, "repo", "C", "", "Git repository datasets are read from")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFile, "log-file", "", "Also write JSON logs to this file")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide progress output")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newDiffCommand(a),
		newMergeCommand(a),
		newApplyCommand(a),
		newVerifyCommand(a),
		newShowCommand(a),
		newSchemaCommand(a),
		newLogCommand(a),
		newChurnCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Repository != "" {
		cfg.Repository = opts.Repository
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	logger.SetLogPath(cfg.Log.File)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logger.GetLogger()
	a.history = history.NewClient(cfg.Repository, a.log)
	a.quiet = opts.Quiet
	a.color = !opts.NoColor && !color.NoColor
	return nil
}

// loader returns a loader for ref using the dataset's configured format.
func (a *app) loader(ref string) *loader.Loader {
	l := &loader.Loader{
		History:   a.history,
		BatchSize: int64(a.cfg.Diff.BatchSize),
		Logger:    a.log,
	}
	if d, ok := a.dataset(ref); ok {
		l.Format = d.Format
		l.Delimiter = d.DelimiterRune()
	}
	return l
}

func (a *app) dataset(ref string) (config.DatasetConfig, bool) {
	r, err := loader.ParseRef(ref)
	if err != nil {
		return config.DatasetConfig{}, false
	}
	return a.cfg.Dataset(r.Path)
}

// diffOptions starts from the configured defaults. Explicit keys win over
// the dataset's configured key columns.
func (a *app) diffOptions(ref string, keys, ignore []string, epsilon float64, epsilonSet bool) diff.Options {
	o := diff.Options{
		KeyColumns:    keys,
		IgnoreColumns: a.cfg.Diff.IgnoreColumns,
		FloatEpsilon:  a.cfg.Diff.FloatEpsilon,
		BatchSize:     a.cfg.Diff.BatchSize,
		Logger:        a.log,
	}
	if len(o.KeyColumns) == 0 {
		if d, ok := a.dataset(ref); ok {
			o.KeyColumns = d.KeyColumns
		}
	}
	if len(ignore) > 0 {
		o.IgnoreColumns = ignore
	}
	if epsilonSet {
		o.FloatEpsilon = epsilon
	}
	return o
}

func (a *app) generator(format string) (report.Generator, error) {
	if format == "" {
		format = a.cfg.Output
	}
	return report.New(format, a.color && format == "text")
}

func (a *app) bar(w io.Writer, name string) progress.Bar {
	return progress.NewBar(w, name, a.quiet)
}

func (a *app) spinner(w io.Writer, msg string) *progress.Spinner {
	return progress.StartSpinner(w, msg, a.quiet)
}

func writeOutput(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}
