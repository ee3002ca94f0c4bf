package main

import "github.com/spf13/cobra"

func newExportCmd(app Runner, opts *AppOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export [script]",
		Short: "Replay a script and export the page as GeoJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := *opts
			o.OutputFile = output
			app.ApplyOptions(o)
			return app.RunExport(args[0])
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	return cmd
}
