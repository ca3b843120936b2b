package main

import (
	"strconv"

	"github.com/TFMV/tabdelta/api"
	"github.com/TFMV/tabdelta/pkg/loader"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		port    int
		prefork bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diff and merge HTTP API",
		Long: `The serve command starts an HTTP server exposing diff, merge, apply and
schema operations on datasets readable from this host. It stops on SIGINT
or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Server.Port
			}
			defaults := a.diffOptions("", nil, nil, 0, false)
			defaults.Logger = nil

			srv := api.NewServer(api.ServerOptions{
				Port:    strconv.Itoa(port),
				Prefork: prefork,
				Loader: &loader.Loader{
					History:   a.history,
					BatchSize: int64(a.cfg.Diff.BatchSize),
					Logger:    a.log,
				},
				Defaults: defaults,
				Logger:   a.log,
			})
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&prefork, "prefork", false, "Enable Fiber prefork mode")
	return cmd
}
