package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLogCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log [flags] PATH",
		Short: "List the revisions of a dataset",
		Long: `The log command lists the git commits that touched a dataset file, newest
first. Any listed hash can be used in a "rev:path" ref.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commits, err := a.history.Log(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No history for %s\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range commits {
				hash := c.Hash
				if len(hash) > 8 {
					hash = hash[:8]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", hash, humanize.Time(c.Date), c.Author, c.Subject)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "max-count", "n", 20, "Number of revisions to list (0 for all)")
	return cmd
}
