package main

import "github.com/spf13/cobra"

func newServeCmd(app Runner, opts *AppOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored takeoffs over HTTP",
		Long: `Serve measurements, annotations, rendered overlays and GeoJSON for every
sheet in the configured store. With --mqtt the server also follows the change
feed published by other engines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := *opts
			o.HTTPPort = port
			app.ApplyOptions(o)
			return app.RunService()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default: http.port from the config)")
	return cmd
}
