package main

import "github.com/spf13/cobra"

func newReplayCmd(app Runner, opts *AppOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [script]",
		Short: "Replay a gesture script and print the resulting takeoff",
		Long: `Replay a YAML gesture script through the interaction engine. Every
completed gesture is committed to the configured store, so replaying against a
SQLite database builds up a persistent takeoff.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.ApplyOptions(*opts)
			return app.RunReplay(args[0])
		},
	}
}
