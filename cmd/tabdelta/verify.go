package main

import (
	"encoding/json"
	"fmt"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/validation"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newVerifyCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "verify [flags] CHANGESET BASE TARGET",
		Short: "Check that a changeset turns BASE into TARGET",
		Long: `The verify command checks a stored changeset against two dataset versions:
its records are well formed, BASE and TARGET are the versions it was computed
between, and applying it to BASE reproduces TARGET.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cs, err := changeset.ReadFile(args[0])
			if err != nil {
				return err
			}
			snaps, err := a.loader(args[1]).LoadAll(ctx, args[1], args[2])
			if err != nil {
				return err
			}

			v := validation.NewValidator(a.log)
			v.Epsilon = a.cfg.Diff.FloatEpsilon
			r, err := v.Validate(ctx, cs, snaps[0], snaps[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				data, err := json.MarshalIndent(r, "", "  ")
				if err != nil {
					return err
				}
				if err := writeOutput(out, data); err != nil {
					return err
				}
			} else {
				ok, bad := color.New(color.FgGreen), color.New(color.FgRed)
				if !a.color {
					ok.DisableColor()
					bad.DisableColor()
				}
				for _, c := range r.Checks {
					if c.Status {
						ok.Fprintf(out, "ok    %s\n", c.Name)
					} else {
						bad.Fprintf(out, "FAIL  %s: %s\n", c.Name, c.Message)
					}
				}
			}
			if !r.Status {
				return fmt.Errorf("%d of %d checks failed", len(r.Failed()), len(r.Checks))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}
